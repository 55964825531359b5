package render

import (
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
)

func newTestPool(t *testing.T, workers int) *Pool {
	t.Helper()
	gen, err := NewGenerator(WithRand(rand.New(rand.NewSource(7))))
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	p := NewPool(gen, workers, zap.NewNop())
	p.Start()
	t.Cleanup(p.Stop)
	return p
}

func TestPool_Generate(t *testing.T) {
	p := newTestPool(t, 2)

	var wg sync.WaitGroup
	errs := make(chan error, 6)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			img, err := p.Generate("CAM-1")
			if err == nil && (img.DeviceID != "CAM-1" || img.Size() == 0) {
				err = errors.New("empty frame")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Generate: %v", err)
		}
	}
}

func TestPool_StoppedRejects(t *testing.T) {
	p := newTestPool(t, 1)
	p.Stop()
	p.Stop()

	if _, err := p.Generate("CAM-1"); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("got %v, want ErrPoolStopped", err)
	}
}

func TestNewPool_DefaultWorkers(t *testing.T) {
	p := NewPool(nil, 0, zap.NewNop())
	if p.workers != 4 || cap(p.jobQueue) != 8 {
		t.Errorf("workers=%d queue=%d", p.workers, cap(p.jobQueue))
	}
}

type panickyGenerator struct{}

func (panickyGenerator) Generate(deviceID string) (*Image, error) {
	if deviceID == "BAD" {
		panic("glyph index out of range")
	}
	return &Image{DeviceID: deviceID, Data: []byte{1}}, nil
}

func TestPool_RecoversGeneratorPanic(t *testing.T) {
	p := NewPool(panickyGenerator{}, 1, zap.NewNop())
	p.Start()
	t.Cleanup(p.Stop)

	img, err := p.Generate("BAD")
	if err == nil || !strings.Contains(err.Error(), "render panic: glyph index out of range") {
		t.Fatalf("got %v, %v; want a render panic error", img, err)
	}

	// the single worker must still be alive
	img, err = p.Generate("CAM-1")
	if err != nil || img.DeviceID != "CAM-1" {
		t.Errorf("after panic: %v, %v", img, err)
	}
}
