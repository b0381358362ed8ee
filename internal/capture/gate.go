package capture

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/camera"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/data"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/events"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/sensor"
)

// Result records the outcome of the most recent terminal decision for
// status endpoints.
type Result struct {
	Decision     string    `json:"decision"`
	ProductNo    string    `json:"product_no,omitempty"`
	InspectionID int64     `json:"inspection_id,omitempty"`
	ImagePath    string    `json:"image_path,omitempty"`
	Error        string    `json:"error,omitempty"`
	At           time.Time `json:"at"`
}

// Gate subscribes to the sensor machine and persists exactly one capture
// per left-to-right pass. The pass callback arrives synchronously from
// the machine, so persistence is serialized against the next event.
type Gate struct {
	driver     func() camera.Driver
	ring       *camera.Ring
	model      data.InspectionModel
	publisher  *events.Publisher
	captureDir string

	mu        sync.Mutex
	productNo string
	serial    int
	last      *Result
	captures  int64
	failures  int64
}

func NewGate(driver func() camera.Driver, ring *camera.Ring, model data.InspectionModel, publisher *events.Publisher, captureDir string) *Gate {
	return &Gate{
		driver:     driver,
		ring:       ring,
		model:      model,
		publisher:  publisher,
		captureDir: captureDir,
		productNo:  "UNASSIGNED",
	}
}

// SetProduct switches the product the line is currently running and
// resets the serial counter.
func (g *Gate) SetProduct(productNo string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if productNo == "" || productNo == g.productNo {
		return
	}
	log.Printf("Capture: product switched %s -> %s", g.productNo, productNo)
	g.productNo = productNo
	g.serial = 0
}

// OnSensorUpdate implements sensor.Listener. Non-terminal state changes
// are ignored here; the SSE fan-out has its own subscription.
func (g *Gate) OnSensorUpdate(n sensor.Notification) {
	if n.Decision == nil {
		return
	}

	switch *n.Decision {
	case sensor.DecisionPassLeftToRight:
		g.persist(n)
	default:
		// The pass never completed; anything buffered belongs to it.
		if g.ring != nil {
			g.ring.Clear()
		}
		g.record(Result{Decision: string(*n.Decision), At: n.At})
		g.publish(&events.InspectionEvent{Decision: string(*n.Decision), OccurredAt: n.At})
	}
}

func (g *Gate) persist(n sensor.Notification) {
	g.mu.Lock()
	g.serial++
	productNo, serial := g.productNo, g.serial
	g.mu.Unlock()

	res := Result{Decision: string(sensor.DecisionPassLeftToRight), ProductNo: productNo, At: n.At}

	d := g.driver()
	if d == nil {
		g.fail(res, "no active camera driver")
		return
	}

	path, err := d.WriteFrame(g.captureDir)
	if err != nil {
		g.fail(res, "write frame: "+err.Error())
		return
	}
	res.ImagePath = path

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ins := &data.Inspection{
		ProductNo:    productNo,
		Serial:       serial,
		InspectionDT: n.At,
		ImagePath:    &path,
	}
	if err := g.model.Insert(ctx, ins); err != nil {
		g.fail(res, "insert inspection: "+err.Error())
		return
	}
	res.InspectionID = ins.InspectionID

	meta, _ := json.Marshal(map[string]any{"sequence": n.Sequence})
	img := &data.InspectionImage{
		InspectionID:     ins.InspectionID,
		ImagePath:        path,
		ImageType:        "bmp",
		CaptureTimestamp: n.At,
		ImageMetadata:    meta,
	}
	if err := g.model.AddImage(ctx, img); err != nil {
		// The inspection row stands; the attachment insert is best-effort.
		log.Printf("[WARN] Capture: attach image for inspection %d: %v", ins.InspectionID, err)
	}

	g.mu.Lock()
	g.captures++
	g.last = &res
	g.mu.Unlock()

	log.Printf("Capture: inspection %d persisted (%s)", ins.InspectionID, path)
	g.publish(&events.InspectionEvent{
		Decision:     res.Decision,
		ProductNo:    productNo,
		InspectionID: ins.InspectionID,
		ImagePath:    path,
		OccurredAt:   n.At,
	})
}

func (g *Gate) fail(res Result, msg string) {
	res.Error = msg
	log.Printf("[ERROR] Capture: %s", msg)
	g.mu.Lock()
	g.failures++
	g.last = &res
	g.mu.Unlock()
}

func (g *Gate) record(res Result) {
	g.mu.Lock()
	g.last = &res
	g.mu.Unlock()
}

func (g *Gate) publish(evt *events.InspectionEvent) {
	if err := g.publisher.Publish(evt); err != nil {
		log.Printf("[WARN] Capture: publish event: %v", err)
	}
}

// Stats reports the gate counters and the last result.
func (g *Gate) Stats() (captures, failures int64, last *Result) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last != nil {
		cp := *g.last
		last = &cp
	}
	return g.captures, g.failures, last
}
