package pipeline

import (
	"context"
	"path"
	"path/filepath"
	"sort"

	"github.com/tikz/gcreplay/blob"
	"github.com/tikz/gcreplay/summary"
)

// Output layout of a published run.
const (
	DMSVizPrefix   = "dmsviz-jsons"
	MetadataPrefix = "metadata"
)

// publish copies the dms-viz files and the summary from the temporary
// directory to the output store, replacing existing objects.
func (r *run) publish(ctx context.Context) error {
	jsons, err := filepath.Glob(filepath.Join(r.cfg.TempDir, "*.dmsviz.json"))
	if err != nil {
		return err
	}
	sort.Strings(jsons)

	type upload struct{ key, path string }
	var uploads []upload
	for _, p := range jsons {
		uploads = append(uploads, upload{path.Join(DMSVizPrefix, filepath.Base(p)), p})
	}
	for _, name := range []string{summary.CSVFile, summary.JSONFile} {
		uploads = append(uploads, upload{path.Join(MetadataPrefix, name), filepath.Join(r.cfg.TempDir, name)})
	}

	for _, u := range uploads {
		if _, err := blob.PutFile(ctx, r.store, u.key, u.path, blob.ContentType(u.path)); err != nil {
			return err
		}
		r.metrics.published.Inc()
	}
	r.log.Info("published outputs", "driver", r.store.Driver(), "files", len(uploads))
	return nil
}
