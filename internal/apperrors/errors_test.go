package apperrors

import (
	"errors"
	"testing"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	err := StoreAppend(cause)

	if !errors.Is(err, ErrStoreAppend) {
		t.Fatalf("expected errors.Is to match ErrStoreAppend")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to match wrapped cause")
	}
}

func TestAsExtractsServiceError(t *testing.T) {
	err := Publish(errors.New("conn reset"))
	wrapped := errors.New("outer: " + err.Error())

	if As(wrapped) != nil {
		t.Fatalf("expected no ServiceError in a plain wrapped string error")
	}
	svc := As(err)
	if svc == nil || svc.Code != CodePublish {
		t.Fatalf("expected CodePublish, got %#v", svc)
	}
}

func TestIsServiceError(t *testing.T) {
	if !IsServiceError(Validation("bad actor", nil)) {
		t.Fatalf("expected Validation() to produce a ServiceError")
	}
	if IsServiceError(errors.New("plain")) {
		t.Fatalf("expected plain error to not be a ServiceError")
	}
}
