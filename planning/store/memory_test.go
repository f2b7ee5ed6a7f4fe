package store_test

import (
	"testing"

	"github.com/warp/pcp-engine/planning/store"
	"github.com/warp/pcp-engine/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store {
		return store.NewMemory()
	})
}
