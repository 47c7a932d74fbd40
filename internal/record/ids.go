package record

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// TempID generates a temporary local id for an optimistic record created
// before the server assigns a real one.
func TempID() string {
	return localID("temp")
}

// ActionID generates a local id for a queued offline action.
func ActionID() string {
	return localID("action")
}

func localID(prefix string) string {
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixMilli(), randSuffix())
}

func randSuffix() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
