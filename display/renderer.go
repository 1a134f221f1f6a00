package display

import (
	"context"

	"github.com/jd3nn1s/dashlog"
	log "github.com/sirupsen/logrus"
)

// Renderer is the only writer of the canvas and the display devices.
type Renderer struct {
	canvas  *Canvas
	dash    *Dashboard
	outputs []Output

	frames uint64
}

func NewRenderer(canvas *Canvas, outputs ...Output) *Renderer {
	return &Renderer{
		canvas:  canvas,
		dash:    NewDashboard(canvas),
		outputs: outputs,
	}
}

// Run draws every snapshot it receives until frames is closed or ctx is
// done. The outputs are closed on return.
func (r *Renderer) Run(ctx context.Context, frames <-chan dashlog.Snapshot) error {
	defer r.close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-frames:
			if !ok {
				return nil
			}
			r.Render(&snap)
		}
	}
}

// Render composes one snapshot and publishes it to every output.
func (r *Renderer) Render(snap *dashlog.Snapshot) {
	r.dash.Draw(snap)
	for _, out := range r.outputs {
		if err := out.Publish(r.canvas); err != nil {
			log.WithField("err", err).Warn("unable to publish frame")
		}
	}
	r.frames++
}

func (r *Renderer) Frames() uint64 {
	return r.frames
}

func (r *Renderer) close() {
	for _, out := range r.outputs {
		if err := out.Close(); err != nil {
			log.WithField("err", err).Warn("unable to close display")
		}
	}
	log.WithField("frames", r.frames).Info("renderer stopped")
}
