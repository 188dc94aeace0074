package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Marshal serializes a snapshot in the current schema. New writes always use
// the current field spelling; the legacy spelling is only ever accepted on
// the read path.
func Marshal(s *MarketSnapshot) ([]byte, error) {
	return json.Marshal(s)
}

// Unmarshal decodes a stored record. It first attempts a strict decode
// against the current schema; on failure it applies the legacy-field
// compatibility rewrite once and retries. Records that survive neither
// attempt produce a SchemaError.
func Unmarshal(id string, data []byte) (*MarketSnapshot, error) {
	snap, err := decodeStrict(data)
	if err == nil {
		return snap, nil
	}

	rewritten, rErr := normalizeRecord(data)
	if rErr != nil {
		return nil, &SchemaError{ID: id, Err: fmt.Errorf("%v (compat rewrite: %v)", err, rErr)}
	}

	snap, err = decodeStrict(rewritten)
	if err != nil {
		return nil, &SchemaError{ID: id, Err: err}
	}
	return snap, nil
}

func decodeStrict(data []byte) (*MarketSnapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var snap MarketSnapshot
	if err := dec.Decode(&snap); err != nil {
		return nil, err
	}
	if snap.Meta.ID == "" {
		return nil, fmt.Errorf("record has no snapshot id")
	}
	if snap.Meta.Timestamp.IsZero() {
		return nil, fmt.Errorf("record has no timestamp")
	}
	if snap.Meta.HorizonDays == 0 {
		snap.Meta.HorizonDays = DefaultHorizonDays
	}
	return &snap, nil
}

// normalizeRecord rewrites a legacy record into the current schema:
//   - meta field renames: id -> snapshot_id, created_at -> timestamp,
//     asset_universe -> tickers
//   - horizon_days synthesized from meta properties (default 30)
//   - sigma in columnar table form ({"columns": [...], "data": [[...]]})
//     converted to the nested-mapping encoding
//
// Unknown extra fields (e.g. raw_features_path from the oldest records) are
// dropped rather than rejected.
func normalizeRecord(data []byte) ([]byte, error) {
	var record map[string]json.RawMessage
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("record is not a JSON object: %w", err)
	}

	if rawMeta, ok := record["meta"]; ok {
		fixed, err := normalizeMeta(rawMeta)
		if err != nil {
			return nil, err
		}
		record["meta"] = fixed
	}

	if rawSigma, ok := record["sigma"]; ok {
		fixed, err := normalizeSigma(rawSigma)
		if err != nil {
			return nil, err
		}
		record["sigma"] = fixed
	}

	// Keep only fields the current schema knows about.
	known := []string{"meta", "mu", "sigma", "sentiment", "market_caps", "prices"}
	out := make(map[string]json.RawMessage, len(known))
	for _, key := range known {
		if v, ok := record[key]; ok {
			out[key] = v
		}
	}

	return json.Marshal(out)
}

func normalizeMeta(raw json.RawMessage) (json.RawMessage, error) {
	var meta map[string]json.RawMessage
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("meta is not a JSON object: %w", err)
	}

	renames := map[string]string{
		"id":             "snapshot_id",
		"created_at":     "timestamp",
		"asset_universe": "tickers",
	}
	for legacy, current := range renames {
		if v, ok := meta[legacy]; ok {
			if _, exists := meta[current]; !exists {
				meta[current] = v
			}
			delete(meta, legacy)
		}
	}

	if _, ok := meta["horizon_days"]; !ok {
		horizon := DefaultHorizonDays
		if rawProps, ok := meta["properties"]; ok {
			var props map[string]interface{}
			if err := json.Unmarshal(rawProps, &props); err == nil {
				if h, ok := props["horizon_days"].(float64); ok {
					horizon = int(h)
				}
			}
		}
		encoded, err := json.Marshal(horizon)
		if err != nil {
			return nil, err
		}
		meta["horizon_days"] = encoded
	}

	known := []string{"snapshot_id", "timestamp", "tickers", "horizon_days", "description", "source", "properties"}
	out := make(map[string]json.RawMessage, len(known))
	for _, key := range known {
		if v, ok := meta[key]; ok {
			out[key] = v
		}
	}

	return json.Marshal(out)
}

// normalizeSigma accepts the columnar table encoding some ingestion versions
// produced and converts it to the nested-mapping form. Nested mappings pass
// through unchanged.
func normalizeSigma(raw json.RawMessage) (json.RawMessage, error) {
	var nested map[string]map[string]float64
	if err := json.Unmarshal(raw, &nested); err == nil {
		return raw, nil
	}

	var table struct {
		Columns []string    `json:"columns"`
		Index   []string    `json:"index"`
		Data    [][]float64 `json:"data"`
	}
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("sigma is neither a nested mapping nor a table: %w", err)
	}
	if len(table.Columns) == 0 || len(table.Data) == 0 {
		return nil, fmt.Errorf("sigma table is missing columns or data")
	}

	rows := table.Index
	if len(rows) == 0 {
		rows = table.Columns
	}
	if len(table.Data) != len(rows) {
		return nil, fmt.Errorf("sigma table has %d data rows for %d index entries", len(table.Data), len(rows))
	}

	converted := make(map[string]map[string]float64, len(rows))
	for i, rowName := range rows {
		if len(table.Data[i]) != len(table.Columns) {
			return nil, fmt.Errorf("sigma table row %d has %d values for %d columns", i, len(table.Data[i]), len(table.Columns))
		}
		row := make(map[string]float64, len(table.Columns))
		for j, colName := range table.Columns {
			row[colName] = table.Data[i][j]
		}
		converted[rowName] = row
	}

	return json.Marshal(converted)
}
