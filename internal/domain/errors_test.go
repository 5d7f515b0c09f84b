package domain

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyPermanent(t *testing.T) {
	assert.Equal(t, KindPermanent, Classify(ErrItemPermanentFailure))
	assert.Equal(t, KindPermanent, Classify(fmt.Errorf("wrap: %w", ErrWritePermanent)))
}

func TestClassifyTransient(t *testing.T) {
	assert.Equal(t, KindTransient, Classify(ErrEndpointUnreachable))
	assert.Equal(t, KindTransient, Classify(fmt.Errorf("wrap: %w", ErrKeepAliveLost)))
}

func TestClassifyUnknown(t *testing.T) {
	assert.Equal(t, KindUnknown, Classify(nil))
	assert.Equal(t, KindUnknown, Classify(fmt.Errorf("some other error")))
}
