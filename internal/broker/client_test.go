package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdmit_EnforcesPerSecondCap(t *testing.T) {
	c := &client{rateLimit: 100}

	admitted := 0
	for i := 0; i < 150; i++ {
		if c.admit() {
			admitted++
		}
	}

	assert.Equal(t, 100, admitted, "exactly rateLimit messages should be admitted within the same second")
}
