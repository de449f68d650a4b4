package forge

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultImagePrefix = "mcp-adapter"
	DefaultLabelKey    = "mcpforge.managed"

	// LabelAdapter records the descriptor name on images and containers.
	LabelAdapter = "mcpforge.adapter"

	containerNameRandomBytes = 2
	nameMaxLen               = 128
	fallbackName             = "adapter"
)

// ImageTag derives the deterministic tag for a descriptor name. Repeated
// builds for the same name overwrite the previous image.
func ImageTag(prefix, name string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = DefaultImagePrefix
	}
	return fmt.Sprintf("%s/%s:latest", prefix, SanitizeName(name))
}

// ContainerName generates a container name with a random suffix.
// Format: mcpforge-{name}-{4-char-random}
func ContainerName(name string) string {
	return fmt.Sprintf("mcpforge-%s-%s", SanitizeName(name), randomContainerSuffix())
}

// Labels returns the namespacing labels applied at build and run time.
func Labels(labelKey, name string) map[string]string {
	if strings.TrimSpace(labelKey) == "" {
		labelKey = DefaultLabelKey
	}
	return map[string]string{
		labelKey:     "true",
		LabelAdapter: SanitizeName(name),
	}
}

// SanitizeName lowercases name and replaces anything outside the image
// reference path alphabet with '-'.
func SanitizeName(name string) string {
	var b strings.Builder
	lastSep := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSep = false
		case r == '.' || r == '_' || r == '-':
			if !lastSep {
				b.WriteRune(r)
				lastSep = true
			}
		default:
			if !lastSep {
				b.WriteByte('-')
				lastSep = true
			}
		}
	}
	out := strings.Trim(b.String(), "._-")
	if len(out) > nameMaxLen {
		out = strings.Trim(out[:nameMaxLen], "._-")
	}
	if out == "" {
		return fallbackName
	}
	return out
}

// readRandom is swapped in tests.
var readRandom = rand.Read

func randomContainerSuffix() string {
	b := make([]byte, containerNameRandomBytes)
	if _, err := readRandom(b); err != nil {
		// Version 1 ids advance either the timestamp or the clock sequence
		// on every call.
		if id, err := uuid.NewUUID(); err == nil {
			for i := range b {
				b[i] = id[4-containerNameRandomBytes+i] ^ id[8+i]
			}
		} else {
			binary.BigEndian.PutUint16(b, uint16(time.Now().UnixNano()))
		}
	}
	return hex.EncodeToString(b)
}
