package usecase

import (
	"bytes"
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/example/face-attend/internal/logging"
	"github.com/example/face-attend/internal/repository"
)

func enrollmentImages(count int) []EnrollmentImage {
	images := make([]EnrollmentImage, count)
	for i := range images {
		images[i] = EnrollmentImage{
			Filename: "face.jpg",
			Data:     bytes.Repeat([]byte{byte(i + 1)}, 128),
		}
	}
	return images
}

func TestEnrollCreatesProfileWithPairedLists(t *testing.T) {
	profiles := newStubProfiles()
	blobs := &stubBlobs{}
	client := &stubInference{embedVec: []float64{0.1, 0.2}}
	uc := NewEnrollmentUseCase(profiles, blobs, client, plainCipher{}, zap.NewNop())

	result, err := uc.Enroll(context.Background(), "id-1", "Alice", enrollmentImages(5), map[string]string{"department": "eng"})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if result.ImageCount != 5 {
		t.Fatalf("expected 5 images, got %d", result.ImageCount)
	}
	if len(profiles.created) != 1 {
		t.Fatalf("expected one created profile, got %d", len(profiles.created))
	}

	profile := profiles.created[0]
	if len(profile.Images) != 5 || len(profile.Embeddings) != 5 {
		t.Fatalf("images and embeddings must grow in lockstep, got %d/%d", len(profile.Images), len(profile.Embeddings))
	}
	if !profile.Active {
		t.Fatal("new profiles must be active")
	}
	if profile.Attributes["department"] != "eng" {
		t.Fatalf("unexpected attributes: %v", profile.Attributes)
	}
	if len(blobs.puts) != 5 {
		t.Fatalf("expected 5 stored blobs, got %d", len(blobs.puts))
	}
}

func TestEnrollIsCumulative(t *testing.T) {
	profiles := newStubProfiles()
	blobs := &stubBlobs{}
	client := &stubInference{embedVec: []float64{0.1, 0.2}}
	uc := NewEnrollmentUseCase(profiles, blobs, client, plainCipher{}, zap.NewNop())

	if _, err := uc.Enroll(context.Background(), "id-1", "Alice", enrollmentImages(5), map[string]string{"department": "eng", "age": "30"}); err != nil {
		t.Fatalf("first enrollment failed: %v", err)
	}
	if _, err := uc.Enroll(context.Background(), "id-1", "Alice", enrollmentImages(3), map[string]string{"age": "31", "team": "core"}); err != nil {
		t.Fatalf("second enrollment failed: %v", err)
	}

	if len(profiles.saved) != 1 {
		t.Fatalf("expected the second call to extend the profile, saved %d times", len(profiles.saved))
	}
	profile := profiles.saved[0]
	if len(profile.Images) != 8 || len(profile.Embeddings) != 8 {
		t.Fatalf("expected 8 images and 8 embeddings, got %d/%d", len(profile.Images), len(profile.Embeddings))
	}
	if profile.Attributes["department"] != "eng" {
		t.Fatal("existing attribute keys must survive the merge")
	}
	if profile.Attributes["age"] != "31" {
		t.Fatal("new attribute values must override old ones")
	}
	if profile.Attributes["team"] != "core" {
		t.Fatal("new attribute keys must be added")
	}
}

func TestEnrollMidBatchFailureLeavesEarlierBlobs(t *testing.T) {
	profiles := newStubProfiles()
	blobs := &stubBlobs{failPutAt: 3}
	client := &stubInference{embedVec: []float64{0.1}}
	uc := NewEnrollmentUseCase(profiles, blobs, client, plainCipher{}, zap.NewNop())

	_, err := uc.Enroll(context.Background(), "id-1", "Alice", enrollmentImages(5), nil)
	if err == nil {
		t.Fatal("expected mid-batch failure to abort the call")
	}
	if len(profiles.created) != 0 || len(profiles.saved) != 0 {
		t.Fatal("a failed enrollment must not touch the profile")
	}
	// Blobs stored before the failure are not rolled back.
	if len(blobs.puts) != 2 {
		t.Fatalf("expected 2 orphaned blobs, got %d", len(blobs.puts))
	}
	if len(blobs.deleted) != 0 {
		t.Fatal("no compensating delete is performed")
	}
}

func TestEnrollInferenceFailureAborts(t *testing.T) {
	profiles := newStubProfiles()
	blobs := &stubBlobs{}
	client := &stubInference{embedErr: logging.NewKindError(logging.KindUnavailable, "stub.embed", "", context.DeadlineExceeded)}
	uc := NewEnrollmentUseCase(profiles, blobs, client, plainCipher{}, zap.NewNop())

	_, err := uc.Enroll(context.Background(), "id-1", "Alice", enrollmentImages(5), nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if logging.KindOf(err) != logging.KindUnavailable {
		t.Fatalf("expected unavailable kind, got %s", logging.KindOf(err))
	}
	if len(profiles.created) != 0 {
		t.Fatal("a failed enrollment must not create a profile")
	}
}

func TestDeleteProfileRemovesBlobsBeforeDocument(t *testing.T) {
	profile := repository.FaceProfile{
		IdentityID: "id-1",
		Active:     true,
		Images: []repository.ImageRef{
			{BlobID: "blob-a"},
			{BlobID: "blob-b"},
		},
	}
	profiles := newStubProfiles(profile)
	blobs := &stubBlobs{}
	uc := NewEnrollmentUseCase(profiles, blobs, &stubInference{}, plainCipher{}, zap.NewNop())

	if err := uc.DeleteProfile(context.Background(), "id-1"); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(blobs.deleted) != 2 {
		t.Fatalf("expected 2 deleted blobs, got %d", len(blobs.deleted))
	}
	if len(profiles.deleted) != 1 || profiles.deleted[0] != "id-1" {
		t.Fatalf("expected the profile document to be removed, got %v", profiles.deleted)
	}
}

func TestDeleteProfileNotFound(t *testing.T) {
	uc := NewEnrollmentUseCase(newStubProfiles(), &stubBlobs{}, &stubInference{}, plainCipher{}, zap.NewNop())

	err := uc.DeleteProfile(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if logging.KindOf(err) != logging.KindNotFound {
		t.Fatalf("expected not_found kind, got %s", logging.KindOf(err))
	}
}
