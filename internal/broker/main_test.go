package broker

import (
	"testing"

	"go.uber.org/goleak"
	"nanopubsub.com/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Nop()
	goleak.VerifyTestMain(m)
}
