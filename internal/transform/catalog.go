package transform

import (
	"context"

	"songplays_etl/internal/model"
)

// CatalogEntry is the slice of a catalog record the fact join needs.
type CatalogEntry struct {
	SongID     string
	ArtistID   string
	Title      string
	ArtistName string
}

// ValidateCatalogRecord checks the fields every catalog record must carry.
func ValidateCatalogRecord(i int, r model.CatalogRecord) error {
	switch {
	case r.SongID == "":
		return &model.MalformedRecordError{Index: i, Field: "song_id", Reason: "is missing"}
	case r.Title == "":
		return &model.MalformedRecordError{Index: i, Field: "title", Reason: "is missing"}
	case r.ArtistID == "":
		return &model.MalformedRecordError{Index: i, Field: "artist_id", Reason: "is missing"}
	}
	return nil
}

func projectCatalog[T any](records []model.CatalogRecord, project func(model.CatalogRecord) T) ([]T, error) {
	rows := make([]T, len(records))
	for i, r := range records {
		if err := ValidateCatalogRecord(i, r); err != nil {
			return nil, err
		}
		rows[i] = project(r)
	}
	return rows, nil
}

// ExtractSongs projects the songs dimension, one row per distinct tuple.
func ExtractSongs(ctx context.Context, cfg Config, records []model.CatalogRecord) ([]model.SongDim, error) {
	rows, err := projectCatalog(records, func(r model.CatalogRecord) model.SongDim {
		return model.SongDim{
			SongID:   r.SongID,
			Title:    r.Title,
			ArtistID: r.ArtistID,
			Year:     r.Year,
			Duration: r.Duration,
		}
	})
	if err != nil {
		return nil, err
	}
	return distinct(ctx, cfg.workers(), rows, identity[model.SongDim])
}

// ExtractArtists projects and renames the artist columns, one row per distinct
// tuple.
func ExtractArtists(ctx context.Context, cfg Config, records []model.CatalogRecord) ([]model.ArtistDim, error) {
	rows, err := projectCatalog(records, func(r model.CatalogRecord) model.ArtistDim {
		return model.ArtistDim{
			Name:      r.ArtistName,
			Location:  r.ArtistLocation,
			Latitude:  copyFloat(r.ArtistLatitude),
			Longitude: copyFloat(r.ArtistLongitude),
		}
	})
	if err != nil {
		return nil, err
	}
	return distinct(ctx, cfg.workers(), rows, model.ArtistDim.Key)
}

// ProjectCatalog returns the distinct join-side projection of the catalog.
func ProjectCatalog(ctx context.Context, cfg Config, records []model.CatalogRecord) ([]CatalogEntry, error) {
	rows, err := projectCatalog(records, func(r model.CatalogRecord) CatalogEntry {
		return CatalogEntry{
			SongID:     r.SongID,
			ArtistID:   r.ArtistID,
			Title:      r.Title,
			ArtistName: r.ArtistName,
		}
	})
	if err != nil {
		return nil, err
	}
	return distinct(ctx, cfg.workers(), rows, identity[CatalogEntry])
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
