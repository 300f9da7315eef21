package realtime

import (
	"fmt"
	"io"
	logger "log"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Poller fetches a GTFS-Realtime feed over HTTP on an interval,
// retrying transient failures with exponential backoff rather than
// failing the whole polling loop, since feed errors are treated as
// transient observation errors.
type Poller struct {
	log    *logger.Logger
	url    string
	client *http.Client
}

// NewPoller returns a Poller for url using client (http.DefaultClient if
// nil).
func NewPoller(log *logger.Logger, url string, client *http.Client) *Poller {
	if client == nil {
		client = http.DefaultClient
	}
	return &Poller{log: log, url: url, client: client}
}

// FetchOnce retrieves and returns the feed's raw protobuf bytes, retrying
// up to maxElapsed with exponential backoff on transient failures (non-2xx
// status or a network error).
func (p *Poller) FetchOnce(maxElapsed time.Duration) ([]byte, error) {
	var body []byte

	op := func() error {
		resp, err := p.client.Get(p.url)
		if err != nil {
			return err
		}
		defer func() {
			_ = resp.Body.Close()
		}()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("realtime: feed %s returned status %d", p.url, resp.StatusCode)
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		body = data
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxElapsed

	notify := func(err error, wait time.Duration) {
		if p.log != nil {
			p.log.Printf("REALTIME : fetch %s failed, retrying in %s: %v", p.url, wait, err)
		}
	}

	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, fmt.Errorf("realtime: fetching feed %s: %w", p.url, err)
	}
	return body, nil
}

// Run polls the feed every interval, invoking onVehiclePositions and
// onTripUpdates (either may be nil to skip that decode) with each
// successfully fetched and decoded batch, until shutdown fires.
func (p *Poller) Run(interval time.Duration, shutdown <-chan struct{}, onVehiclePositions func([]VehiclePosition), onTripUpdates func([]TripUpdate)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-shutdown:
			return
		case <-ticker.C:
			data, err := p.FetchOnce(interval)
			if err != nil {
				if p.log != nil {
					p.log.Printf("REALTIME : %v", err)
				}
				continue
			}
			if onVehiclePositions != nil {
				positions, err := DecodeVehiclePositions(data)
				if err != nil {
					if p.log != nil {
						p.log.Printf("REALTIME : %v", err)
					}
				} else {
					onVehiclePositions(positions)
				}
			}
			if onTripUpdates != nil {
				updates, err := DecodeTripUpdates(data)
				if err != nil {
					if p.log != nil {
						p.log.Printf("REALTIME : %v", err)
					}
				} else {
					onTripUpdates(updates)
				}
			}
		}
	}
}
