package camera

// dummyDriver is the canonical fallback: an in-process black-frame
// producer that always satisfies the driver contract.
type dummyDriver struct {
	base
}

func newDummy(opts Options) *dummyDriver {
	d := &dummyDriver{}
	d.opts = opts
	d.mode = ModeSnapshot
	return d
}

func (d *dummyDriver) Kind() Kind { return KindDummy }

func (d *dummyDriver) Connect() bool {
	d.setConnected(true)
	return true
}

func (d *dummyDriver) Disconnect() bool {
	d.stopPump()
	d.setConnected(false)
	return true
}

func (d *dummyDriver) SetMode(mode Mode) error {
	return d.setMode(mode, d.GetFrame)
}

func (d *dummyDriver) GetFrame() *Frame {
	if !d.IsConnected() {
		return nil
	}
	d.mu.Lock()
	w, h := d.opts.Width, d.opts.Height
	d.mu.Unlock()
	return BlackFrame(w, h)
}

func (d *dummyDriver) WriteFrame(dir string) (string, error) {
	return d.writeFrame(dir, d.GetFrame())
}

func (d *dummyDriver) SetParams(params map[string]any) error {
	d.setParams(params)
	return nil
}
