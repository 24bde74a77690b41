package location

import (
	"fmt"
	"strings"
	"time"
)

// QueryType is one of the three lookup granularities.
type QueryType string

const (
	Countries QueryType = "countries"
	States    QueryType = "states"
	Cities    QueryType = "cities"
)

// QueryTypes lists every QueryType from the coarsest to the finest.
var QueryTypes = []QueryType{Countries, States, Cities}

// KeyPrefix prefixes every location cache key.
const KeyPrefix = "location_"

// TTL returns how long a result of qt stays fresh. Countries change
// least often and cities most often.
func (qt QueryType) TTL() time.Duration {
	switch qt {
	case Countries:
		return 1440 * time.Minute
	case States:
		return 720 * time.Minute
	case Cities:
		return 360 * time.Minute
	default:
		return 0
	}
}

func (qt QueryType) Valid() bool {
	return qt.TTL() > 0
}

// ParseQueryType parses s case-insensitively.
func ParseQueryType(s string) (QueryType, error) {
	qt := QueryType(strings.ToLower(strings.TrimSpace(s)))
	if !qt.Valid() {
		return "", fmt.Errorf("unknown query type %q", s)
	}
	return qt, nil
}

// Prefix returns the key prefix shared by every key of qt.
func (qt QueryType) Prefix() string {
	return KeyPrefix + string(qt)
}

// Key derives the cache key of a lookup. Params are trimmed and
// lower-cased, so keys are case-insensitive but order-sensitive.
//
//	Key(States, "USA")        == "location_states_usa"
//	Key(Cities, "USA", "TX")  == "location_cities_usa_tx"
func Key(qt QueryType, params ...string) string {
	var b strings.Builder
	b.WriteString(qt.Prefix())
	for _, p := range params {
		b.WriteByte('_')
		b.WriteString(strings.ToLower(strings.TrimSpace(p)))
	}
	return b.String()
}
