package etafeed

import (
	"context"
	"encoding/json"
	logger "log"
	"net/http"
	"strconv"
	"strings"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/gorilla/mux"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"
)

// estimateHandler serves the Container's current estimates either as a
// GTFS-Realtime TripUpdate FeedMessage (default) or as JSON when the
// request carries ?json=true.
type estimateHandler struct {
	log       *logger.Logger
	container *Container
}

func (h *estimateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	asText := strings.ToLower(r.FormValue("text")) == "true"
	asJSON := strings.ToLower(r.FormValue("json")) == "true"
	if asJSON {
		h.serveJSON(w)
		return
	}
	h.serveGTFSRT(asText, w)
}

func (h *estimateHandler) serveJSON(w http.ResponseWriter) {
	estimates := h.container.All()
	data, err := json.Marshal(jsonResponse{GeneratedAt: uint64(time.Now().Unix()), Estimates: estimates})
	if err != nil {
		h.log.Printf("ETA_FEED : marshaling json response: %v", err)
		http.Error(w, "error serving request", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(data); err != nil {
		h.log.Printf("ETA_FEED : writing json response: %v", err)
	}
}

func (h *estimateHandler) serveGTFSRT(asText bool, w http.ResponseWriter) {
	feedMessage := buildFeedMessage(h.container.All(), uint64(time.Now().Unix()))
	if asText {
		h.writeProtocolBufferAsText(feedMessage, w)
		return
	}
	h.writeProtocolBuffer(feedMessage, w)
}

func (h *estimateHandler) writeProtocolBuffer(feedMessage *gtfsrt.FeedMessage, w http.ResponseWriter) {
	data, err := proto.Marshal(feedMessage)
	if err != nil {
		h.log.Printf("ETA_FEED : marshaling FeedMessage: %v", err)
		http.Error(w, "error serving request", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-protobuf")
	if _, err := w.Write(data); err != nil {
		h.log.Printf("ETA_FEED : writing protobuf response: %v", err)
	}
}

func (h *estimateHandler) writeProtocolBufferAsText(feedMessage *gtfsrt.FeedMessage, w http.ResponseWriter) {
	text := prototext.MarshalOptions{Multiline: true}.Format(feedMessage)
	w.Header().Set("Content-Type", "text/plain")
	if _, err := w.Write([]byte(text)); err != nil {
		h.log.Printf("ETA_FEED : writing text response: %v", err)
	}
}

// jsonResponse wraps Estimates with a feed-level timestamp for the JSON
// response mode.
type jsonResponse struct {
	GeneratedAt uint64      `json:"generated_at"`
	Estimates   []*Estimate `json:"estimates"`
}

// buildFeedMessage translates estimates into a GTFS-Realtime
// FeedMessage of TripUpdate entities, one per vehicle.
func buildFeedMessage(estimates []*Estimate, now uint64) *gtfsrt.FeedMessage {
	version := "2.0"
	incrementality := gtfsrt.FeedHeader_FULL_DATASET
	msg := &gtfsrt.FeedMessage{
		Header: &gtfsrt.FeedHeader{
			GtfsRealtimeVersion: &version,
			Incrementality:      &incrementality,
			Timestamp:           &now,
		},
	}
	for _, e := range estimates {
		msg.Entity = append(msg.Entity, tripUpdateEntity(e))
	}
	return msg
}

func tripUpdateEntity(e *Estimate) *gtfsrt.FeedEntity {
	tripID := e.TripID
	stopTimeUpdates := make([]*gtfsrt.TripUpdate_StopTimeUpdate, len(e.Stops))
	for i, s := range e.Stops {
		stopID := s.StopID
		seq := uint32(s.StopSequence)
		arrival := s.ArrivalTime.Unix()
		departure := s.DepartureTime.Unix()
		stopTimeUpdates[i] = &gtfsrt.TripUpdate_StopTimeUpdate{
			StopSequence: &seq,
			StopId:       &stopID,
			Arrival:      &gtfsrt.TripUpdate_StopTimeEvent{Time: &arrival},
			Departure:    &gtfsrt.TripUpdate_StopTimeEvent{Time: &departure},
		}
	}

	entityID := e.VehicleID
	return &gtfsrt.FeedEntity{
		Id: &entityID,
		TripUpdate: &gtfsrt.TripUpdate{
			Trip:           &gtfsrt.TripDescriptor{TripId: &tripID},
			StopTimeUpdate: stopTimeUpdates,
		},
	}
}

// createServer builds the configured http.Server for the estimate feed.
func createServer(log *logger.Logger, container *Container, httpPort int) *http.Server {
	handler := &estimateHandler{log: log, container: container}

	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Application-Status", "OK")
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/tripUpdate", handler)

	return &http.Server{
		Addr:         strings.Join([]string{"0.0.0.0", strconv.Itoa(httpPort)}, ":"),
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
		Handler:      r,
	}
}

// RunWebService starts the estimate feed's HTTP server and blocks until
// shutdown fires, then gracefully stops it.
func RunWebService(log *logger.Logger, container *Container, httpPort int, shutdown <-chan struct{}) {
	srv := createServer(log, container, httpPort)
	go func() {
		log.Printf("ETA_FEED : starting server on port %d", httpPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("ETA_FEED : server ListenAndServe ended: %v", err)
		}
	}()

	<-shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("ETA_FEED : error shutting down webservice: %v", err)
	}
}
