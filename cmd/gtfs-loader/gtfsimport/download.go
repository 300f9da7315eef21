package gtfsimport

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/transitnet/flowmodel/foundation/httpclient"
)

// DownloadAndExtract fetches the GTFS static zip at url, saving it to
// destDir/gtfs.zip, and unpacks its entries (stops.txt, routes.txt,
// trips.txt, stop_times.txt, shapes.txt, and anything else the feed
// bundles) directly into destDir so Build can read them as plain files.
func DownloadAndExtract(destDir, url string) error {
	if err := os.MkdirAll(destDir, os.ModePerm); err != nil {
		return fmt.Errorf("gtfsimport: creating %s: %w", destDir, err)
	}
	zipPath := filepath.Join(destDir, "gtfs.zip")
	if _, err := httpclient.DownloadRemoteFile(zipPath, url); err != nil {
		return fmt.Errorf("gtfsimport: downloading %s: %w", url, err)
	}
	defer func() { _ = os.Remove(zipPath) }()

	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("gtfsimport: opening %s: %w", zipPath, err)
	}
	defer func() { _ = r.Close() }()

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if err := extractZipEntry(f, destDir); err != nil {
			return fmt.Errorf("gtfsimport: extracting %s: %w", f.Name, err)
		}
	}
	return nil
}

func extractZipEntry(f *zip.File, destDir string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	out, err := os.Create(filepath.Join(destDir, filepath.Base(f.Name)))
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	_, err = io.Copy(out, rc)
	return err
}
