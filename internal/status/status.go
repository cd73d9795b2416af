// Package status defines the shared vocabulary of miner lifecycle states,
// used by both the Stratum client and the Mining Engine so neither has to
// import the other just to agree on state names.
package status

// Status is a single word describing where the miner's connection/mining
// lifecycle currently stands. It's logged and surfaced to operators; treat
// the string values as part of the operator-facing contract.
type Status string

const (
	Idle            Status = "idle"
	Starting        Status = "starting"
	Connecting      Status = "connecting"
	Connected       Status = "connected"
	Subscribing     Status = "subscribing"
	Subscribed      Status = "subscribed"
	Authorizing     Status = "authorizing"
	Authorized      Status = "authorized"
	Mining          Status = "mining"
	Disconnected    Status = "disconnected"
	Reconnecting    Status = "reconnecting"
	SubscribeFailed Status = "subscribe_failed"
	AuthFailed      Status = "auth_failed"
	DNSFailed       Status = "dns_failed"
	Timeout         Status = "timeout"
	Refused         Status = "refused"
	Error           Status = "error"
	Stopping        Status = "stopping"
)
