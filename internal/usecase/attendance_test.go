package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-attend/internal/inference"
	"github.com/example/face-attend/internal/logging"
	"github.com/example/face-attend/internal/repository"
)

func detectedFace(vector []float64, x float64) inference.DetectedFace {
	return inference.DetectedFace{
		Box:       inference.FaceBox{X: x, Y: 10, Width: 50, Height: 50},
		Embedding: vector,
	}
}

func newAttendanceUseCase(profiles *stubProfiles, records *stubAttendanceStore, blobs *stubBlobs, client *stubInference, cache Cache) *AttendanceUseCase {
	if cache == nil {
		cache = newStubCache()
	}
	matcher := NewMatcher(plainCipher{}, zap.NewNop())
	return NewAttendanceUseCase(profiles, records, blobs, client, matcher, cache, zap.NewNop())
}

func TestAuthenticateGroupAccounting(t *testing.T) {
	known := []float64{1, 0, 0}
	profiles := newStubProfiles(profileWithVectors("id-1", "Alice", known))
	client := &stubInference{faces: []inference.DetectedFace{
		detectedFace(known, 0),
		detectedFace([]float64{0, 1, 0}, 100),
		detectedFace([]float64{0, 0, 1}, 200),
	}}
	records := &stubAttendanceStore{}
	blobs := &stubBlobs{}
	uc := newAttendanceUseCase(profiles, records, blobs, client, nil)

	result, err := uc.AuthenticateGroup(context.Background(), []byte("group"), "evt-1", "Standup", "HQ")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if result.TotalFacesDetected != 3 {
		t.Fatalf("expected 3 detected faces, got %d", result.TotalFacesDetected)
	}
	if len(result.Attendees) != 1 {
		t.Fatalf("expected 1 identified attendee, got %d", len(result.Attendees))
	}
	if result.UnidentifiedFaces != 2 {
		t.Fatalf("expected unidentified = total - identified, got %d", result.UnidentifiedFaces)
	}

	if len(records.created) != 1 {
		t.Fatalf("expected one persisted record, got %d", len(records.created))
	}
	record := records.created[0]
	if record.EventID != "evt-1" || record.EventName != "Standup" || record.Location != "HQ" {
		t.Fatalf("unexpected record fields: %+v", record)
	}
	if record.TotalFacesDetected != 3 || record.UnidentifiedFaces != 2 || len(record.Attendees) != 1 {
		t.Fatalf("record accounting mismatch: %+v", record)
	}
	if record.Attendees[0].FaceBox.Width != 50 {
		t.Fatalf("attendee must carry its face box, got %+v", record.Attendees[0].FaceBox)
	}
	if record.GroupImageBlobID == "" || len(blobs.puts) != 1 {
		t.Fatal("the group image must be persisted")
	}
}

func TestAuthenticateGroupZeroFaces(t *testing.T) {
	profiles := newStubProfiles(profileWithVectors("id-1", "Alice", []float64{1, 0}))
	client := &stubInference{faces: nil}
	records := &stubAttendanceStore{}
	uc := newAttendanceUseCase(profiles, records, &stubBlobs{}, client, nil)

	result, err := uc.AuthenticateGroup(context.Background(), []byte("group"), "evt-1", "", "")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if result.TotalFacesDetected != 0 || len(result.Attendees) != 0 || result.UnidentifiedFaces != 0 {
		t.Fatalf("unexpected result for empty image: %+v", result)
	}
	if len(records.created) != 1 {
		t.Fatal("a record is persisted even when no faces are detected")
	}
}

func TestAuthenticateGroupAllowsDuplicateMatches(t *testing.T) {
	known := []float64{1, 0}
	profiles := newStubProfiles(profileWithVectors("id-1", "Alice", known))
	client := &stubInference{faces: []inference.DetectedFace{
		detectedFace(known, 0),
		detectedFace(known, 100),
	}}
	records := &stubAttendanceStore{}
	uc := newAttendanceUseCase(profiles, records, &stubBlobs{}, client, nil)

	result, err := uc.AuthenticateGroup(context.Background(), []byte("group"), "evt-1", "", "")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(result.Attendees) != 2 {
		t.Fatalf("faces are matched independently, expected 2 attendees, got %d", len(result.Attendees))
	}
	if result.Attendees[0].IdentityID != result.Attendees[1].IdentityID {
		t.Fatal("both faces should resolve to the same identity")
	}
}

func TestAuthenticateGroupDoesNotStampProfiles(t *testing.T) {
	known := []float64{1, 0}
	profiles := newStubProfiles(profileWithVectors("id-1", "Alice", known))
	client := &stubInference{faces: []inference.DetectedFace{detectedFace(known, 0)}}
	uc := newAttendanceUseCase(profiles, &stubAttendanceStore{}, &stubBlobs{}, client, nil)

	if _, err := uc.AuthenticateGroup(context.Background(), []byte("group"), "evt-1", "", ""); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(profiles.touched) != 0 {
		t.Fatal("group authentication must not update lastAuthenticatedAt")
	}
}

func TestAuthenticateGroupDetectionFailure(t *testing.T) {
	profiles := newStubProfiles()
	client := &stubInference{detectErr: logging.NewKindError(logging.KindUnavailable, "stub.detect", "", errors.New("down"))}
	records := &stubAttendanceStore{}
	blobs := &stubBlobs{}
	uc := newAttendanceUseCase(profiles, records, blobs, client, nil)

	_, err := uc.AuthenticateGroup(context.Background(), []byte("group"), "evt-1", "", "")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if logging.KindOf(err) != logging.KindUnavailable {
		t.Fatalf("expected unavailable kind, got %s", logging.KindOf(err))
	}
	if len(records.created) != 0 {
		t.Fatal("no record may be persisted when detection fails")
	}
	// The group image blob stays behind, mirroring the enrollment gap.
	if len(blobs.puts) != 1 {
		t.Fatalf("expected the orphaned group image blob, got %d", len(blobs.puts))
	}
}

func TestAttendanceHistoryUsesCacheOnRepeat(t *testing.T) {
	cache := newStubCache()
	records := &stubAttendanceStore{history: []repository.AttendanceRecord{
		{EventID: "evt-1", TotalFacesDetected: 4},
	}}
	uc := newAttendanceUseCase(newStubProfiles(), records, &stubBlobs{}, &stubInference{}, cache)

	filter := repository.AttendanceFilter{EventID: "evt-1"}
	first, err := uc.History(context.Background(), filter)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(first) != 1 || records.historyCalls != 1 {
		t.Fatalf("expected one DB read, got %d", records.historyCalls)
	}

	second, err := uc.History(context.Background(), filter)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if records.historyCalls != 1 {
		t.Fatalf("second read should be served from cache, DB reads: %d", records.historyCalls)
	}
	if len(second) != 1 || second[0].EventID != "evt-1" {
		t.Fatalf("cached result mismatch: %+v", second)
	}
}

func TestAttendanceHistoryCacheFailureFallsBackToStore(t *testing.T) {
	cache := newStubCache()
	cache.getErr = errors.New("redis down")
	cache.setErr = errors.New("redis down")
	records := &stubAttendanceStore{history: []repository.AttendanceRecord{{EventID: "evt-1"}}}
	uc := newAttendanceUseCase(newStubProfiles(), records, &stubBlobs{}, &stubInference{}, cache)

	result, err := uc.History(context.Background(), repository.AttendanceFilter{EventID: "evt-1"})
	if err != nil {
		t.Fatalf("cache failures must not fail the read: %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("expected the database result, got %+v", result)
	}
}

func fastCacheRetry() cacheRetry {
	return cacheRetry{attempts: 3, initialBackoff: time.Millisecond, maxBackoff: 4 * time.Millisecond}
}

func TestAttendanceHistoryRetriesTransientCacheReads(t *testing.T) {
	cache := newStubCache()
	records := &stubAttendanceStore{history: []repository.AttendanceRecord{{EventID: "evt-1"}}}
	uc := newAttendanceUseCase(newStubProfiles(), records, &stubBlobs{}, &stubInference{}, cache)
	uc.retry = fastCacheRetry()

	filter := repository.AttendanceFilter{EventID: "evt-1"}
	if _, err := uc.History(context.Background(), filter); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if records.historyCalls != 1 {
		t.Fatalf("expected one DB read to seed the cache, got %d", records.historyCalls)
	}

	cache.getTransient = 2
	second, err := uc.History(context.Background(), filter)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if records.historyCalls != 1 {
		t.Fatalf("transient cache failures must be retried, not sent to the DB, reads: %d", records.historyCalls)
	}
	if len(second) != 1 || second[0].EventID != "evt-1" {
		t.Fatalf("cached result mismatch: %+v", second)
	}
	if len(cache.getKeys) != 4 {
		t.Fatalf("expected 1 seed read plus 3 attempts, got %d", len(cache.getKeys))
	}
}

func TestAttendanceHistoryFallsBackAfterRetryBudget(t *testing.T) {
	cache := newStubCache()
	cache.getTransient = 10
	records := &stubAttendanceStore{history: []repository.AttendanceRecord{{EventID: "evt-1"}}}
	uc := newAttendanceUseCase(newStubProfiles(), records, &stubBlobs{}, &stubInference{}, cache)
	uc.retry = fastCacheRetry()

	result, err := uc.History(context.Background(), repository.AttendanceFilter{EventID: "evt-1"})
	if err != nil {
		t.Fatalf("an unreachable cache must not fail the read: %v", err)
	}
	if len(result) != 1 || records.historyCalls != 1 {
		t.Fatalf("expected the database result, got %+v", result)
	}
	if len(cache.getKeys) != 3 {
		t.Fatalf("expected the full retry budget of 3 reads, got %d", len(cache.getKeys))
	}
}

func TestAttendanceHistoryRetriesTransientCacheWrites(t *testing.T) {
	cache := newStubCache()
	cache.setTransient = 1
	records := &stubAttendanceStore{history: []repository.AttendanceRecord{{EventID: "evt-1"}}}
	uc := newAttendanceUseCase(newStubProfiles(), records, &stubBlobs{}, &stubInference{}, cache)
	uc.retry = fastCacheRetry()

	if _, err := uc.History(context.Background(), repository.AttendanceFilter{EventID: "evt-1"}); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(cache.setKeys) != 2 {
		t.Fatalf("expected the write to be retried once, got %d attempts", len(cache.setKeys))
	}
	if len(cache.values) != 1 {
		t.Fatal("expected the cache write to land on the second attempt")
	}
}

func TestAttendanceHistoryIgnoresCorruptCachedPayload(t *testing.T) {
	cache := newStubCache()
	records := &stubAttendanceStore{history: []repository.AttendanceRecord{{EventID: "evt-1"}}}
	uc := newAttendanceUseCase(newStubProfiles(), records, &stubBlobs{}, &stubInference{}, cache)

	filter := repository.AttendanceFilter{EventID: "evt-1"}
	if _, err := uc.History(context.Background(), filter); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	cache.values[cache.setKeys[0]] = "{not json"

	result, err := uc.History(context.Background(), filter)
	if err != nil {
		t.Fatalf("a corrupt cache entry must not fail the read: %v", err)
	}
	if records.historyCalls != 2 {
		t.Fatalf("corrupt cache entry should fall through to the DB, reads: %d", records.historyCalls)
	}
	if len(result) != 1 || result[0].EventID != "evt-1" {
		t.Fatalf("expected the database result, got %+v", result)
	}
}

func TestAttendanceHistoryCachedPayloadIsJSON(t *testing.T) {
	cache := newStubCache()
	records := &stubAttendanceStore{history: []repository.AttendanceRecord{{EventID: "evt-1"}}}
	uc := newAttendanceUseCase(newStubProfiles(), records, &stubBlobs{}, &stubInference{}, cache)

	if _, err := uc.History(context.Background(), repository.AttendanceFilter{EventID: "evt-1"}); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(cache.setKeys) != 1 {
		t.Fatalf("expected one cache write, got %d", len(cache.setKeys))
	}
	var decoded []repository.AttendanceRecord
	if err := json.Unmarshal([]byte(cache.values[cache.setKeys[0]]), &decoded); err != nil {
		t.Fatalf("cached payload must be JSON: %v", err)
	}
}
