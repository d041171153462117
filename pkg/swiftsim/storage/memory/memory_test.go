package memory_test

import (
	"testing"

	"github.com/tendant/simple-cloudfiles/pkg/swiftsim/storage/memory"
	"github.com/tendant/simple-cloudfiles/pkg/swiftsim/storage/storagetest"
)

func TestMemoryBackend(t *testing.T) {
	storagetest.Run(t, memory.New())
}
