package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sync"

	"go.mau.fi/util/dbutil"
)

// VectorConfig controls whether nearest-neighbour search tries to load the
// sqlite-vec extension (a vec0 virtual table queried with
// vec_distance_cosine) before falling back to a brute-force scan.
type VectorConfig struct {
	Enabled       bool
	ExtensionPath string
}

const vectorTable = "message_embeddings_vec"

// loadExtensionEnabler matches (*sqlite3.SQLiteConn).EnableLoadExtension,
// declared locally so this package doesn't need a direct sqlite3 import
// beyond the driver registration in uow.go.
type loadExtensionEnabler interface {
	EnableLoadExtension(enable bool) error
}

// vectorExtStatus caches whether the vector extension loaded successfully,
// probed once per database and reused by every later query instead of
// re-running load_extension on each call.
type vectorExtStatus struct {
	once    sync.Once
	ok      bool
	errText string
}

type vectorState struct {
	cfg VectorConfig
	ext *vectorExtStatus
}

var vectorStates sync.Map // map[*dbutil.Database]*vectorState

func registerVectorConfig(db *dbutil.Database, cfg VectorConfig) {
	vectorStates.Store(db, &vectorState{cfg: cfg, ext: &vectorExtStatus{}})
}

func vectorStateFor(db *dbutil.Database) *vectorState {
	if v, ok := vectorStates.Load(db); ok {
		return v.(*vectorState)
	}
	v := &vectorState{ext: &vectorExtStatus{}}
	actual, _ := vectorStates.LoadOrStore(db, v)
	return actual.(*vectorState)
}

// withVectorConn grabs a raw *sql.Conn from the pool, loads the vector
// extension (probing and caching the outcome the first time), calls fn, and
// always releases the connection.
func (r *EmbeddingRepo) withVectorConn(ctx context.Context, fn func(conn *sql.Conn) error) error {
	if !r.vectorCfg.Enabled || r.rawDB == nil {
		return errors.New("vector extension unavailable")
	}

	conn, err := r.rawDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("vector conn: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := r.loadVectorExtension(ctx, conn); err != nil {
		return err
	}
	return fn(conn)
}

func (r *EmbeddingRepo) loadVectorExtension(ctx context.Context, conn *sql.Conn) error {
	if r.vectorExt == nil {
		return errors.New("vector extension unavailable")
	}
	if r.vectorCfg.ExtensionPath == "" {
		// vec0 may already be compiled in; nothing to load.
		return nil
	}

	firstProbe := false
	r.vectorExt.once.Do(func() {
		firstProbe = true
		err := r.doLoadExtension(ctx, conn, r.vectorCfg.ExtensionPath)
		r.vectorExt.ok = err == nil
		if err != nil {
			r.vectorExt.errText = err.Error()
		}
	})
	if !r.vectorExt.ok {
		return errors.New(r.vectorExt.errText)
	}
	if firstProbe {
		// The probe above already loaded the extension on this conn.
		return nil
	}
	// Extension validated previously on a different conn; load_extension is
	// per-connection, so a cached-good result still needs loading here.
	return r.doLoadExtension(ctx, conn, r.vectorCfg.ExtensionPath)
}

func (r *EmbeddingRepo) doLoadExtension(ctx context.Context, conn *sql.Conn, extPath string) error {
	_ = conn.Raw(func(driverConn any) error {
		if enabler, ok := driverConn.(loadExtensionEnabler); ok {
			return enabler.EnableLoadExtension(true)
		}
		return nil
	})
	if _, err := conn.ExecContext(ctx, "SELECT load_extension(?)", extPath); err != nil {
		return fmt.Errorf("vector extension load: %w", err)
	}
	_ = conn.Raw(func(driverConn any) error {
		if enabler, ok := driverConn.(loadExtensionEnabler); ok {
			return enabler.EnableLoadExtension(false)
		}
		return nil
	})
	return nil
}

// ensureVectorTable creates the vec0 virtual table for dims-dimensional
// vectors, if it doesn't already exist.
func (r *EmbeddingRepo) ensureVectorTable(ctx context.Context, dims int) error {
	if dims <= 0 {
		return fmt.Errorf("ensure vector table: invalid dims %d", dims)
	}
	return r.withVectorConn(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, fmt.Sprintf(
			"CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(message_id TEXT PRIMARY KEY, model TEXT, embedding FLOAT[%d])",
			vectorTable, dims,
		))
		return err
	})
}

func vectorToBlob(values []float64) []byte {
	buf := make([]byte, 0, len(values)*4)
	for _, v := range values {
		bits := math.Float32bits(float32(v))
		buf = append(buf, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
	}
	return buf
}

// upsertVector mirrors the message_embeddings row into the vec0 table, best
// effort: any failure (extension unavailable, table not yet created for a
// different dims) is swallowed so writes never depend on vector search being
// configured.
func (r *EmbeddingRepo) upsertVector(ctx context.Context, messageID, model string, vector []float64) {
	if !r.vectorCfg.Enabled || len(vector) == 0 {
		return
	}
	if err := r.ensureVectorTable(ctx, len(vector)); err != nil {
		return
	}
	_ = r.withVectorConn(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx,
			fmt.Sprintf("INSERT OR REPLACE INTO %s (message_id, model, embedding) VALUES (?, ?, ?)", vectorTable),
			messageID, model, vectorToBlob(vector))
		return err
	})
}

// NearestVec0 runs a vec0 k-nearest-neighbour query via vec_distance_cosine,
// returning true if the vector extension was available and the query ran.
// Callers should fall back to NearestBruteForce when ok is false.
func (r *EmbeddingRepo) NearestVec0(ctx context.Context, model string, query []float64, k int) (hits []VectorHit, ok bool) {
	if !r.vectorCfg.Enabled || len(query) == 0 || k <= 0 {
		return nil, false
	}

	err := r.withVectorConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, fmt.Sprintf(
			`SELECT message_id, vec_distance_cosine(embedding, ?) AS distance
			 FROM %s WHERE model = ? ORDER BY distance ASC LIMIT ?`, vectorTable),
			vectorToBlob(query), model, k)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var messageID string
			var distance float64
			if err := rows.Scan(&messageID, &distance); err != nil {
				return err
			}
			hits = append(hits, VectorHit{MessageID: messageID, Similarity: 1 - distance})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, false
	}
	return hits, true
}
