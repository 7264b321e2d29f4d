package fixture

import "testing"

func TestPass(t *testing.T) {}

func TestFail(t *testing.T) {
	t.Error("broken")
}

func TestSkip(t *testing.T) {
	t.Skip("not today")
}

func TestParent(t *testing.T) {
	t.Run("ok", func(t *testing.T) {})
	t.Run("flaky", func(t *testing.T) {
		t.Error("flaked")
	})
}
