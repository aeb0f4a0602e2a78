package main

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestBase62RoundTrip(t *testing.T) {
	for _, id := range []uuid.UUID{uuid.Nil, uuid.New(), uuid.MustParse("ffffffff-ffff-ffff-ffff-ffffffffffff")} {
		enc := UUIDToBase62(id)
		dec, err := Base62ToUUID(enc)
		if err != nil || dec != id {
			t.Fatalf("round trip of %s via %q gave %s, %v", id, enc, dec, err)
		}
	}
	if _, err := Base62ToUUID("abc-def"); err == nil {
		t.Fatal("expected an error for a non base62 character")
	}
	if _, err := Base62ToUUID(strings.Repeat("z", 22)); err == nil {
		t.Fatal("expected an overflow error")
	}
}

func TestSmartPlaylistID(t *testing.T) {
	id := newSmartPlaylistID()
	if !strings.HasPrefix(id, "smart_") || !validSmartPlaylistID(id) {
		t.Fatalf("generated id %q does not validate", id)
	}
	for _, bad := range []string{"", "smart_", "playlist_abc", "smart_!!", "smart_" + strings.Repeat("1", 23)} {
		if validSmartPlaylistID(bad) {
			t.Errorf("%q should be rejected", bad)
		}
	}
}
