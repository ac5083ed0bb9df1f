package catalog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore is a Store backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies pending
// migrations. Use ":memory:" for a throwaway database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("reading migrations: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		version, err := strconv.Atoi(strings.SplitN(f, "_", 2)[0])
		if err != nil {
			return fmt.Errorf("invalid migration filename %q: expected numeric prefix", f)
		}

		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count); err != nil {
			return err
		}
		if count > 0 {
			continue
		}

		content, err := migrations.ReadFile("migrations/" + f)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", f, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", f, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// PutTrack inserts or replaces a track.
func (s *SQLiteStore) PutTrack(ctx context.Context, t Track) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tracks (id, title, audio_path) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title, audio_path = excluded.audio_path`,
		t.ID, t.Title, t.AudioPath)
	if err != nil {
		return fmt.Errorf("put track %s: %w", t.ID, err)
	}
	return nil
}

// PutRecord inserts or replaces the rendition of r.TrackID at r.Tier.
func (s *SQLiteStore) PutRecord(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO track_qualities
		   (track_id, tier, format, bitrate_kbps, sample_rate_hz, bit_depth, channels, file_path, segment_playlist_path)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(track_id, tier) DO UPDATE SET
		   format = excluded.format,
		   bitrate_kbps = excluded.bitrate_kbps,
		   sample_rate_hz = excluded.sample_rate_hz,
		   bit_depth = excluded.bit_depth,
		   channels = excluded.channels,
		   file_path = excluded.file_path,
		   segment_playlist_path = excluded.segment_playlist_path`,
		r.TrackID, r.Tier, r.Format,
		nullInt(r.BitrateKbps), nullInt(r.SampleRateHz), nullInt(r.BitDepth), nullInt(r.Channels),
		r.FilePath, r.SegmentPlaylistPath)
	if err != nil {
		return fmt.Errorf("put quality %s/%s: %w", r.TrackID, r.Tier, err)
	}
	return nil
}

// Track implements Store.Track.
func (s *SQLiteStore) Track(ctx context.Context, trackID string) (Track, error) {
	var t Track
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, audio_path FROM tracks WHERE id = ?`, trackID).
		Scan(&t.ID, &t.Title, &t.AudioPath)
	if errors.Is(err, sql.ErrNoRows) {
		return Track{}, ErrTrackNotFound
	}
	if err != nil {
		return Track{}, fmt.Errorf("get track %s: %w", trackID, err)
	}
	return t, nil
}

// QualityRecords implements Store.QualityRecords.
func (s *SQLiteStore) QualityRecords(ctx context.Context, trackID string) ([]Record, error) {
	if _, err := s.Track(ctx, trackID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT track_id, tier, format, bitrate_kbps, sample_rate_hz, bit_depth, channels, file_path, segment_playlist_path
		 FROM track_qualities WHERE track_id = ? ORDER BY tier`, trackID)
	if err != nil {
		return nil, fmt.Errorf("list qualities %s: %w", trackID, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                              Record
			bitrate, rate, depth, channels sql.NullInt64
		)
		if err := rows.Scan(&r.TrackID, &r.Tier, &r.Format, &bitrate, &rate, &depth, &channels, &r.FilePath, &r.SegmentPlaylistPath); err != nil {
			return nil, fmt.Errorf("scan quality row: %w", err)
		}
		r.BitrateKbps = fromNull(bitrate)
		r.SampleRateHz = fromNull(rate)
		r.BitDepth = fromNull(depth)
		r.Channels = fromNull(channels)
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func fromNull(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
