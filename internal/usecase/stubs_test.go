package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/example/face-attend/internal/embedding"
	"github.com/example/face-attend/internal/inference"
	"github.com/example/face-attend/internal/logging"
	"github.com/example/face-attend/internal/repository"
)

// plainCipher round-trips plaintext with a reversible marker so tests can
// build "encrypted" embeddings without real key material.
type plainCipher struct{}

func (plainCipher) Encrypt(plaintext string) (string, error) { return "enc:" + plaintext, nil }

func (plainCipher) Decrypt(ciphertext string) (string, error) {
	if len(ciphertext) < 4 || ciphertext[:4] != "enc:" {
		return "", errors.New("not a test ciphertext")
	}
	return ciphertext[4:], nil
}

// failingCipher fails every decrypt.
type failingCipher struct{}

func (failingCipher) Encrypt(plaintext string) (string, error) { return plaintext, nil }
func (failingCipher) Decrypt(string) (string, error)           { return "", errors.New("decrypt failed") }

func encryptedVector(v []float64) repository.EncryptedEmbedding {
	plaintext, err := embedding.Serialize(v)
	if err != nil {
		panic(err)
	}
	ciphertext, err := plainCipher{}.Encrypt(plaintext)
	if err != nil {
		panic(err)
	}
	return repository.EncryptedEmbedding{Ciphertext: ciphertext, ModelVersion: ModelVersion, CreatedAt: time.Now().UTC()}
}

type stubProfiles struct {
	profiles []repository.FaceProfile

	created []*repository.FaceProfile
	saved   []*repository.FaceProfile
	touched map[string]time.Time
	deleted []string

	findErr   error
	activeErr error
	createErr error
	saveErr   error
	touchErr  error
	deleteErr error
}

func newStubProfiles(profiles ...repository.FaceProfile) *stubProfiles {
	return &stubProfiles{profiles: profiles, touched: make(map[string]time.Time)}
}

func (s *stubProfiles) FindByIdentity(ctx context.Context, identityID string) (*repository.FaceProfile, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	for i := range s.profiles {
		if s.profiles[i].IdentityID == identityID {
			return &s.profiles[i], nil
		}
	}
	return nil, logging.NewKindError(logging.KindNotFound, "stub.find_profile", "",
		fmt.Errorf("profile %s not found", identityID))
}

func (s *stubProfiles) FindActive(ctx context.Context) ([]repository.FaceProfile, error) {
	if s.activeErr != nil {
		return nil, s.activeErr
	}
	active := make([]repository.FaceProfile, 0, len(s.profiles))
	for _, profile := range s.profiles {
		if profile.Active {
			active = append(active, profile)
		}
	}
	return active, nil
}

func (s *stubProfiles) Create(ctx context.Context, profile *repository.FaceProfile) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, profile)
	s.profiles = append(s.profiles, *profile)
	return nil
}

func (s *stubProfiles) Save(ctx context.Context, profile *repository.FaceProfile) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, profile)
	return nil
}

func (s *stubProfiles) TouchLastAuthenticated(ctx context.Context, identityID string, at time.Time) error {
	if s.touchErr != nil {
		return s.touchErr
	}
	s.touched[identityID] = at
	return nil
}

func (s *stubProfiles) Delete(ctx context.Context, identityID string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, identityID)
	return nil
}

type storedBlob struct {
	ID       string
	Filename string
	Size     int
	Metadata map[string]string
}

type stubBlobs struct {
	puts    []storedBlob
	deleted []string

	// failPutAt makes the Nth Put call fail (1-based); 0 disables.
	failPutAt int
	deleteErr error
}

func (s *stubBlobs) Put(ctx context.Context, data []byte, filename string, metadata map[string]string) (string, error) {
	if s.failPutAt > 0 && len(s.puts)+1 == s.failPutAt {
		return "", logging.NewKindError(logging.KindUnavailable, "stub.put", "", errors.New("blob store down"))
	}
	id := fmt.Sprintf("blob-%d", len(s.puts)+1)
	s.puts = append(s.puts, storedBlob{ID: id, Filename: filename, Size: len(data), Metadata: metadata})
	return id, nil
}

func (s *stubBlobs) Get(ctx context.Context, blobID string) ([]byte, error) {
	return nil, logging.NewKindError(logging.KindNotFound, "stub.get", "", errors.New("not found"))
}

func (s *stubBlobs) Delete(ctx context.Context, blobID string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, blobID)
	return nil
}

type stubInference struct {
	embedVec   []float64
	embedErr   error
	embedCalls int

	faces     []inference.DetectedFace
	detectErr error

	crowd    *inference.CrowdEstimate
	crowdErr error
}

func (s *stubInference) Embed(ctx context.Context, image []byte) ([]float64, error) {
	s.embedCalls++
	if s.embedErr != nil {
		return nil, s.embedErr
	}
	return s.embedVec, nil
}

func (s *stubInference) DetectAndEmbed(ctx context.Context, image []byte) ([]inference.DetectedFace, error) {
	if s.detectErr != nil {
		return nil, s.detectErr
	}
	return s.faces, nil
}

func (s *stubInference) CountCrowd(ctx context.Context, image []byte) (*inference.CrowdEstimate, error) {
	if s.crowdErr != nil {
		return nil, s.crowdErr
	}
	return s.crowd, nil
}

type stubAttendanceStore struct {
	created      []*repository.AttendanceRecord
	createErr    error
	history      []repository.AttendanceRecord
	historyErr   error
	historyCalls int
	lastFilter   repository.AttendanceFilter
}

func (s *stubAttendanceStore) Create(ctx context.Context, record *repository.AttendanceRecord) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, record)
	return nil
}

func (s *stubAttendanceStore) History(ctx context.Context, filter repository.AttendanceFilter) ([]repository.AttendanceRecord, error) {
	s.historyCalls++
	s.lastFilter = filter
	if s.historyErr != nil {
		return nil, s.historyErr
	}
	return s.history, nil
}

type stubCrowdStore struct {
	created      []*repository.CrowdCountRecord
	createErr    error
	history      []repository.CrowdCountRecord
	historyErr   error
	historyCalls int
}

func (s *stubCrowdStore) Create(ctx context.Context, record *repository.CrowdCountRecord) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, record)
	return nil
}

func (s *stubCrowdStore) History(ctx context.Context, filter repository.CrowdFilter) ([]repository.CrowdCountRecord, error) {
	s.historyCalls++
	if s.historyErr != nil {
		return nil, s.historyErr
	}
	return s.history, nil
}

// timeoutCacheError looks like a redis timeout so retry paths treat it as
// transient.
type timeoutCacheError struct{}

func (timeoutCacheError) Error() string { return "i/o timeout" }
func (timeoutCacheError) Timeout() bool { return true }

type stubCache struct {
	values       map[string]string
	setErr       error
	getErr       error
	getTransient int
	setTransient int
	setKeys      []string
	getKeys      []string
}

func newStubCache() *stubCache {
	return &stubCache{values: make(map[string]string)}
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.setKeys = append(s.setKeys, key)
	if s.setTransient > 0 {
		s.setTransient--
		return timeoutCacheError{}
	}
	if s.setErr != nil {
		return s.setErr
	}
	s.values[key] = fmt.Sprint(value)
	return nil
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	s.getKeys = append(s.getKeys, key)
	if s.getTransient > 0 {
		s.getTransient--
		return "", timeoutCacheError{}
	}
	if s.getErr != nil {
		return "", s.getErr
	}
	if value, ok := s.values[key]; ok {
		return value, nil
	}
	return "", redis.Nil
}

type stubRetentionStore struct {
	deletedCutoffs []time.Time
	deleteCount    int64
	deleteErr      error
	countByCutoff  func(cutoff time.Time) int64
	countErr       error
}

func (s *stubRetentionStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if s.deleteErr != nil {
		return 0, s.deleteErr
	}
	s.deletedCutoffs = append(s.deletedCutoffs, cutoff)
	return s.deleteCount, nil
}

func (s *stubRetentionStore) CountSince(ctx context.Context, cutoff time.Time) (int64, error) {
	if s.countErr != nil {
		return 0, s.countErr
	}
	if s.countByCutoff != nil {
		return s.countByCutoff(cutoff), nil
	}
	return 0, nil
}
