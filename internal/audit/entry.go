package audit

// TimestampFormat is the layout used in entry timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Entry is one line in the hash-chained JSONL audit log. It is a flat struct
// so json.Marshal emits fields in a fixed order and hashes are reproducible.
type Entry struct {
	Timestamp string `json:"ts"`
	Hook      string `json:"hook"`
	PID       int32  `json:"pid"`
	Container string `json:"container"`
	Level     string `json:"level"`
	Decision  string `json:"decision"`
	Reason    string `json:"reason"`
	Path      string `json:"path,omitempty"`
	RulesHash string `json:"rules_hash"`
	PrevHash  string `json:"prev_hash"`
}
