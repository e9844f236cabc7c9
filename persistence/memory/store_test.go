package memory

import (
	"testing"

	"github.com/mohitkumar/flowgate/persistence"
	"github.com/mohitkumar/flowgate/persistence/persistencetest"
)

func TestMemoryStore(t *testing.T) {
	persistencetest.TestStore(t, func(t *testing.T) persistence.Store {
		return NewStore()
	})
}
