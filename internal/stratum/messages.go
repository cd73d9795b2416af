package stratum

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Job is a parsed mining.notify job template. Coinb1/Coinb2/MerkleBranch are
// decoded from wire hex into raw bytes; Version/NBits/NTime stay as hex
// strings since that's the form internal/header.Build expects.
type Job struct {
	ID           string
	PrevHash     string
	Coinb1       []byte
	Coinb2       []byte
	MerkleBranch [][]byte
	Version      string
	NBits        string
	NTime        string
	CleanJobs    bool
}

// Purpose tags an outstanding request so its response handler knows what
// kind of call it's completing without re-parsing the original request.
type Purpose string

const (
	PurposeSubscribe         Purpose = "subscribe"
	PurposeAuthorize         Purpose = "authorize"
	PurposeSubmit            Purpose = "submit"
	PurposeSuggestDifficulty Purpose = "suggest_difficulty"
	PurposeKeepalive         Purpose = "keepalive"
)

// Handler receives session events from a Client. Implementations must not
// block for long inside these callbacks; the client invokes them from its
// own read loop.
type Handler interface {
	OnSubscribed(extranonce1 []byte, extranonce2Size int, err error)
	OnAuthorized(ok bool, err error)
	OnJob(job Job)
	OnDifficulty(difficulty float64)
	OnShareResult(accepted bool, err error)
	OnDisconnect(err error)
	OnError(err error)
}

type wireMessage struct {
	ID     *int            `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

type wireRequest struct {
	ID     int           `json:"id"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

func parseNotify(raw json.RawMessage) (Job, error) {
	var params []json.RawMessage
	if err := json.Unmarshal(raw, &params); err != nil {
		return Job{}, fmt.Errorf("stratum: malformed mining.notify params: %w", err)
	}
	// clean_jobs (params[8]) is optional and defaults to false.
	if len(params) < 8 {
		return Job{}, fmt.Errorf("stratum: mining.notify needs at least 8 params, got %d", len(params))
	}
	if len(params) == 8 {
		params = append(params, json.RawMessage("false"))
	}

	var jobID, prevHash, coinb1Hex, coinb2Hex, version, nbits, ntime string
	var branchHex []string
	var cleanJobs bool

	fields := []struct {
		dst interface{}
		raw json.RawMessage
	}{
		{&jobID, params[0]},
		{&prevHash, params[1]},
		{&coinb1Hex, params[2]},
		{&coinb2Hex, params[3]},
		{&branchHex, params[4]},
		{&version, params[5]},
		{&nbits, params[6]},
		{&ntime, params[7]},
		{&cleanJobs, params[8]},
	}
	for _, f := range fields {
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return Job{}, fmt.Errorf("stratum: malformed mining.notify field: %w", err)
		}
	}

	coinb1, err := hex.DecodeString(coinb1Hex)
	if err != nil {
		return Job{}, fmt.Errorf("stratum: bad coinb1 hex: %w", err)
	}
	coinb2, err := hex.DecodeString(coinb2Hex)
	if err != nil {
		return Job{}, fmt.Errorf("stratum: bad coinb2 hex: %w", err)
	}
	branch := make([][]byte, len(branchHex))
	for i, h := range branchHex {
		b, err := hex.DecodeString(h)
		if err != nil {
			return Job{}, fmt.Errorf("stratum: bad merkle branch hex at %d: %w", i, err)
		}
		branch[i] = b
	}

	return Job{
		ID:           jobID,
		PrevHash:     prevHash,
		Coinb1:       coinb1,
		Coinb2:       coinb2,
		MerkleBranch: branch,
		Version:      version,
		NBits:        nbits,
		NTime:        ntime,
		CleanJobs:    cleanJobs,
	}, nil
}

func parseSetDifficulty(raw json.RawMessage) (float64, error) {
	var params []float64
	if err := json.Unmarshal(raw, &params); err != nil {
		return 0, fmt.Errorf("stratum: malformed mining.set_difficulty params: %w", err)
	}
	if len(params) < 1 {
		return 0, fmt.Errorf("stratum: mining.set_difficulty needs 1 param, got %d", len(params))
	}
	return params[0], nil
}

func parseSetExtranonce(raw json.RawMessage) ([]byte, int, error) {
	var params []json.RawMessage
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, 0, fmt.Errorf("stratum: malformed mining.set_extranonce params: %w", err)
	}
	if len(params) < 2 {
		return nil, 0, fmt.Errorf("stratum: mining.set_extranonce needs 2 params, got %d", len(params))
	}
	var extranonce1Hex string
	var size int
	if err := json.Unmarshal(params[0], &extranonce1Hex); err != nil {
		return nil, 0, fmt.Errorf("stratum: bad extranonce1 field: %w", err)
	}
	if err := json.Unmarshal(params[1], &size); err != nil {
		return nil, 0, fmt.Errorf("stratum: bad extranonce2_size field: %w", err)
	}
	extranonce1, err := hex.DecodeString(extranonce1Hex)
	if err != nil {
		return nil, 0, fmt.Errorf("stratum: bad extranonce1 hex: %w", err)
	}
	return extranonce1, size, nil
}

func parseReconnect(raw json.RawMessage) (host string, port int, err error) {
	var params []json.RawMessage
	if err := json.Unmarshal(raw, &params); err != nil {
		return "", 0, fmt.Errorf("stratum: malformed client.reconnect params: %w", err)
	}
	if len(params) == 0 {
		return "", 0, nil
	}
	if err := json.Unmarshal(params[0], &host); err != nil {
		return "", 0, fmt.Errorf("stratum: bad client.reconnect host: %w", err)
	}
	if len(params) > 1 {
		_ = json.Unmarshal(params[1], &port)
	}
	return host, port, nil
}

// defaultExtranonce2Size is used when a pool's subscribe result omits
// extranonce2_size (the 2-element reply form).
const defaultExtranonce2Size = 4

// parseSubscribeResult reads the mining.subscribe response shape:
// [subscriptions, extranonce1_hex, extranonce2_size]. Some pools reply with
// only [subscriptions, extranonce1_hex]; extranonce2_size then defaults to
// defaultExtranonce2Size.
func parseSubscribeResult(raw json.RawMessage) ([]byte, int, error) {
	var result []json.RawMessage
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, 0, fmt.Errorf("stratum: malformed subscribe result: %w", err)
	}
	if len(result) < 2 {
		return nil, 0, fmt.Errorf("stratum: subscribe result needs at least 2 elements, got %d", len(result))
	}
	var extranonce1Hex string
	if err := json.Unmarshal(result[1], &extranonce1Hex); err != nil {
		return nil, 0, fmt.Errorf("stratum: bad extranonce1 in subscribe result: %w", err)
	}
	size := defaultExtranonce2Size
	if len(result) >= 3 {
		if err := json.Unmarshal(result[2], &size); err != nil {
			return nil, 0, fmt.Errorf("stratum: bad extranonce2_size in subscribe result: %w", err)
		}
	}
	extranonce1, err := hex.DecodeString(extranonce1Hex)
	if err != nil {
		return nil, 0, fmt.Errorf("stratum: bad extranonce1 hex: %w", err)
	}
	if len(extranonce1) == 0 {
		return nil, 0, fmt.Errorf("stratum: subscribe result has an empty extranonce1")
	}
	return extranonce1, size, nil
}

func isTruthyResult(raw json.RawMessage) bool {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	return false
}

func errorFromField(raw json.RawMessage) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		if len(arr) >= 2 {
			var msg string
			_ = json.Unmarshal(arr[1], &msg)
			var code int
			_ = json.Unmarshal(arr[0], &code)
			return fmt.Errorf("stratum: pool error %d: %s", code, msg)
		}
	}
	return fmt.Errorf("stratum: pool error: %s", string(raw))
}
