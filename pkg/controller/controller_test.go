package controller

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teslashibe/go-bonbon/internal/config"
	"github.com/teslashibe/go-bonbon/pkg/animation"
	"github.com/teslashibe/go-bonbon/pkg/animator"
	"github.com/teslashibe/go-bonbon/pkg/protocol"
	"github.com/teslashibe/go-bonbon/pkg/vision"
)

const testAnimations = `[
  {"name": "search", "frames": [
    {"position": {"neck-y": 30}, "still": 0, "speed": 0},
    {"position": {"neck-y": 70}, "still": 0, "speed": 200}
  ]},
  {"name": "wave", "frames": [
    {"position": {"left-shoulder-x": 80}, "still": 100, "speed": 0}
  ]},
  {"name": "nod", "lookWhileAnimating": true, "frames": [
    {"position": {"jaw": 20, "eye-x": 10}, "still": 100, "speed": 0}
  ]}
]`

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeDevice struct {
	mu        sync.Mutex
	connected bool
	pos       animation.Position
	frame     []byte
	frameErr  error
	captures  int
	ranges    animation.Ranges
	pose      animation.Position
}

func (d *fakeDevice) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *fakeDevice) setConnected(on bool) {
	d.mu.Lock()
	d.connected = on
	d.mu.Unlock()
}

func (d *fakeDevice) Address() string { return "192.168.1.42" }

func (d *fakeDevice) Servos() animation.Position {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pos
}

func (d *fakeDevice) SetServos(p animation.Position) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pos = p.FillWith(d.pos)
	return nil
}

func (d *fakeDevice) ImageSize() (int, int, bool) { return 320, 240, true }

func (d *fakeDevice) CaptureFrame(context.Context) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.captures++
	return d.frame, d.frameErr
}

func (d *fakeDevice) SetCalibration(ranges animation.Ranges, pose animation.Position) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ranges, d.pose = ranges, pose
}

func (d *fakeDevice) captureCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.captures
}

type fakeDetector struct {
	mu   sync.Mutex
	dets []vision.Detection
	err  error
}

func (d *fakeDetector) Detect([]byte) ([]vision.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dets, d.err
}

func (d *fakeDetector) Close() error { return nil }

func (d *fakeDetector) see(box vision.BoundingBox) {
	d.mu.Lock()
	d.dets = []vision.Detection{{Box: box, ClassName: vision.PersonClass, Score: 0.9}}
	d.mu.Unlock()
}

type fakeStore struct {
	mu          sync.Mutex
	opts        config.Options
	next        *config.Options
	reloadErr   error
	reloadPanic bool
}

func (s *fakeStore) Get() config.Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts
}

func (s *fakeStore) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reloadPanic {
		panic("options exploded")
	}
	if s.reloadErr != nil {
		return s.reloadErr
	}
	if s.next != nil {
		s.opts = *s.next
	}
	return nil
}

type recorder struct {
	mu   sync.Mutex
	msgs map[protocol.MessageType][]interface{}
}

func (r *recorder) Report(t protocol.MessageType, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.msgs == nil {
		r.msgs = make(map[protocol.MessageType][]interface{})
	}
	r.msgs[t] = append(r.msgs[t], data)
}

func (r *recorder) all(t protocol.MessageType) []interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]interface{}(nil), r.msgs[t]...)
}

func (r *recorder) last(t protocol.MessageType) interface{} {
	msgs := r.all(t)
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

func (r *recorder) logs() []string {
	var out []string
	for _, m := range r.all(protocol.TypeLog) {
		out = append(out, m.(string))
	}
	return out
}

type fixture struct {
	c     *Controller
	anim  *animator.Animator
	dev   *fakeDevice
	det   *fakeDetector
	store *fakeStore
	rep   *recorder
	clock *fakeClock
}

func testOptions(t *testing.T) config.Options {
	t.Helper()
	path := filepath.Join(t.TempDir(), "animations.json")
	require.NoError(t, os.WriteFile(path, []byte(testAnimations), 0o644))

	opts := config.Defaults()
	opts.Servos.Ranges = make(map[string]animation.Range)
	for _, s := range animation.Servos() {
		opts.Servos.Ranges[s.String()] = animation.Range{Min: 0, Max: 100}
	}
	opts.Animation.File = path
	opts.Animation.Search = "search"
	opts.Animation.Reactions = []string{"wave", "nod"}
	opts.Animation.TransitionSpeed = 100 * time.Millisecond
	opts.Animation.Rest = 200 * time.Millisecond
	opts.Device.ImageType = "png"
	opts.Loops.ServoInterval = 5 * time.Millisecond
	opts.Loops.CameraInterval = 5 * time.Millisecond
	return opts
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	opts := testOptions(t)
	cal, err := LoadCalibration(opts)
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	pos := animation.Null()
	for _, s := range animation.Servos() {
		pos = pos.With(s, 50)
	}
	dev := &fakeDevice{connected: true, pos: pos, frame: []byte("frame")}
	det := &fakeDetector{}
	store := &fakeStore{opts: opts}
	rep := &recorder{}

	anim := animator.New(dev, rep, AnimatorConfig(opts, cal.Ranges), animator.WithClock(clock.Now))
	c := New(dev, anim, det, store, rep, WithRandom(func(n int) int { return n - 1 }))

	return &fixture{c: c, anim: anim, dev: dev, det: det, store: store, rep: rep, clock: clock}
}

func (f *fixture) command(t *testing.T, msgType protocol.MessageType, data interface{}) {
	t.Helper()
	msg, err := protocol.NewMessage(msgType, data)
	require.NoError(t, err)
	f.c.HandleCommand("test", msg)
}

// tick advances the clock by step and ticks the servo loop once.
func (f *fixture) tick(step time.Duration) {
	f.clock.Advance(step)
	f.c.servoTick()
}

// tickUntil ticks at step until cond holds or max ticks have run.
func (f *fixture) tickUntil(step time.Duration, max int, cond func() bool) bool {
	for i := 0; i < max; i++ {
		if cond() {
			return true
		}
		f.tick(step)
	}
	return cond()
}

func (f *fixture) position(t *testing.T, s animation.Servo) float64 {
	t.Helper()
	v, ok := f.dev.Servos().Get(s).Float()
	require.True(t, ok)
	return v
}

func TestCommandErrorsAreReported(t *testing.T) {
	tests := []struct {
		name    string
		msgType protocol.MessageType
		data    interface{}
		want    string
	}{
		{"unknown type", "dance", "now", `Invalid command type "dance"`},
		{"unknown state", protocol.TypeSetState, "sleep", "Error processing input: unknown state 'sleep'"},
		{"speed not numeric", protocol.TypeSetTransitionSpeed, "fast", `Error processing input: invalid command: couldn't convert "fast" to a number`},
		{"negative speed", protocol.TypeSetTransitionSpeed, "-5", "Error processing input: invalid input"},
		{"speed not finite", protocol.TypeSetTransitionSpeed, "NaN", `Error processing input: invalid command: transition speed "NaN" is out of range`},
		{"speed infinite", protocol.TypeSetTransitionSpeed, "-Inf", `Error processing input: invalid command: transition speed "-Inf" is out of range`},
		{"speed overflows", protocol.TypeSetTransitionSpeed, "1e300", `Error processing input: invalid command: transition speed "1e300" is out of range`},
		{"unknown animation", protocol.TypeStartAnimation, "moonwalk", "Error processing input: animation not found"},
		{"bad vision flag", protocol.TypeSetVision, "maybe", "Error processing input: invalid command"},
		{"bad position", protocol.TypeSetPosition, `{"tail": 3}`, "Error processing input: invalid input"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.command(t, tc.msgType, tc.data)

			logs := f.rep.logs()
			require.NotEmpty(t, logs)
			assert.True(t, strings.HasPrefix(logs[len(logs)-1], tc.want), "got %q", logs[len(logs)-1])
			assert.Equal(t, Animating, f.c.State(), "failed commands leave the state alone")
		})
	}
}

func TestCommandPanicIsRecovered(t *testing.T) {
	f := newFixture(t)
	f.store.reloadPanic = true

	assert.NotPanics(t, func() { f.command(t, protocol.TypeReloadOptions, nil) })
	assert.Equal(t, "Fatal exception occurred!", f.rep.last(protocol.TypeLog))
}

func TestSetStateCommands(t *testing.T) {
	f := newFixture(t)

	f.command(t, protocol.TypeSetState, "looking")
	assert.Equal(t, Looking, f.c.State())
	assert.Equal(t, 1, f.anim.Len(), "search animation scheduled")
	assert.Equal(t, "Looking", f.rep.last(protocol.TypeControllerState))

	f.command(t, protocol.TypeSetState, "look-at")
	assert.Equal(t, LookingAt, f.c.State())

	f.command(t, protocol.TypeSetState, "idle")
	assert.Equal(t, Idle, f.c.State())
	assert.Zero(t, f.anim.Len())

	// Idle stays idle once the scheduler is dry
	f.tick(50 * time.Millisecond)
	assert.Zero(t, f.anim.Len())
	assert.Equal(t, Idle, f.c.State())
}

func TestSearchLoopsWhileLooking(t *testing.T) {
	f := newFixture(t)
	f.command(t, protocol.TypeSetState, "looking")

	// Transition (100ms) plus the authored sweep (200ms), several times over
	for i := 0; i < 40; i++ {
		f.tick(50 * time.Millisecond)
		require.Equal(t, 1, f.anim.Len(), "search must always be live, tick %d", i)
	}
	assert.Equal(t, Looking, f.c.State())
}

func TestSetPosition(t *testing.T) {
	for _, data := range []interface{}{
		map[string]float64{"jaw": 80},
		`{"jaw": 80}`,
	} {
		f := newFixture(t)
		f.command(t, protocol.TypeSetPosition, data)
		assert.Equal(t, Animating, f.c.State())

		f.tickUntil(50*time.Millisecond, 10, f.anim.AnimationEnded)
		assert.Equal(t, 80.0, f.position(t, animation.Jaw))
	}
}

func TestSetVisionAndSpeed(t *testing.T) {
	f := newFixture(t)

	f.command(t, protocol.TypeSetVision, "true")
	assert.True(t, f.c.Vision())
	assert.Equal(t, "Set vision to 'true'", f.rep.last(protocol.TypeLog))

	f.command(t, protocol.TypeSetTransitionSpeed, "250")
	assert.Equal(t, 250*time.Millisecond, f.anim.TransitionSpeed())

	f.command(t, protocol.TypeSetTransitionSpeed, json.RawMessage(`40`))
	assert.Equal(t, 40*time.Millisecond, f.anim.TransitionSpeed())
}

func TestStartAnimation(t *testing.T) {
	f := newFixture(t)

	f.command(t, protocol.TypeStartAnimation, "wave")
	assert.Equal(t, Animating, f.c.State())
	assert.Equal(t, `Started animation "wave"`, f.rep.last(protocol.TypeLog))

	f.command(t, protocol.TypeStartAnimation, "nod")
	assert.Equal(t, LookingAtAndAnimating, f.c.State())
	assert.Equal(t, 2, f.anim.Len(), "animations on other channels keep running")

	f.command(t, protocol.TypeStartAnimation, "wave")
	assert.Equal(t, Animating, f.c.State())
	assert.Equal(t, 2, f.anim.Len(), "replaying preempts the earlier wave")
}

// Zero-length animations can finish on the servo loop before StartAnimation
// has registered the gaze return. Neither side may block the other.
func TestStartAnimationRacesServoLoop(t *testing.T) {
	f := newFixture(t)

	path := filepath.Join(t.TempDir(), "pose.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
  {"name": "pose", "lookWhileAnimating": true, "frames": [
    {"position": {"eye-x": 40}, "still": 0, "speed": 0}
  ]}
]`), 0o644))
	f.store.mu.Lock()
	f.store.opts.Animation.File = path
	f.store.mu.Unlock()
	require.NoError(t, f.c.SetTransitionSpeed(0))

	stop := make(chan struct{})
	ticking := make(chan struct{})
	go func() {
		defer close(ticking)
		for {
			select {
			case <-stop:
				return
			default:
				f.c.servoTick()
			}
		}
	}()

	started := make(chan error, 1)
	go func() {
		for i := 0; i < 300; i++ {
			if err := f.c.StartAnimation("pose"); err != nil {
				started <- err
				return
			}
		}
		started <- nil
	}()

	select {
	case err := <-started:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("controller deadlocked")
	}
	close(stop)
	<-ticking

	// The controller still answers commands
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, f.c.SetState("idle"))
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("controller deadlocked")
	}
	assert.Equal(t, Idle, f.c.State())
}

func TestReloadOptions(t *testing.T) {
	f := newFixture(t)

	next := f.store.Get()
	next.Servos.Ranges = map[string]animation.Range{"jaw": {Min: 0, Max: 180}}
	next.Servos.DefaultPose = map[string]float64{"jaw": 50}
	next.Animation.TransitionSpeed = 2 * time.Second
	f.store.next = &next

	f.command(t, protocol.TypeReloadOptions, nil)
	assert.Equal(t, "Reloaded options", f.rep.last(protocol.TypeLog))

	assert.Equal(t, 2*time.Second, f.anim.TransitionSpeed())
	assert.Equal(t, animation.Range{Min: 0, Max: 180}, f.anim.Config().Ranges[animation.Jaw])
	jaw, ok := f.dev.pose.Get(animation.Jaw).Float()
	require.True(t, ok)
	assert.Equal(t, 90.0, jaw)

	f.store.reloadErr = errors.New("disk on fire")
	f.command(t, protocol.TypeReloadOptions, nil)
	assert.Equal(t, "Error processing input: disk on fire", f.rep.last(protocol.TypeLog))
}

func TestRestThenSearch(t *testing.T) {
	f := newFixture(t)

	// Starts in Animating with nothing scheduled
	f.tick(0)
	assert.Equal(t, 1, f.anim.Len(), "rest scheduled once dry")
	assert.Equal(t, Animating, f.c.State())

	ok := f.tickUntil(50*time.Millisecond, 20, func() bool { return f.c.State() == Looking })
	require.True(t, ok, "rest should end in Looking")
	assert.Equal(t, 1, f.anim.Len(), "search running")
}

func TestCameraGating(t *testing.T) {
	f := newFixture(t)
	f.command(t, protocol.TypeSetState, "idle")

	f.c.cameraTick(context.Background())
	assert.Zero(t, f.dev.captureCount(), "no frames while idle and not streaming")

	f.command(t, protocol.TypeSetVision, "true")
	f.c.cameraTick(context.Background())
	assert.Equal(t, 1, f.dev.captureCount())
	assert.Equal(t, "data:image/png;base64,ZnJhbWU=", f.rep.last(protocol.TypeVision))
	assert.Equal(t, []float64{}, f.rep.last(protocol.TypePersonBBox))

	// Watching states fetch frames without streaming them
	f.command(t, protocol.TypeSetVision, "false")
	f.command(t, protocol.TypeSetState, "look-at")
	f.c.cameraTick(context.Background())
	assert.Equal(t, 2, f.dev.captureCount())
	assert.Len(t, f.rep.all(protocol.TypeVision), 1)

	// Camera failures are skipped
	f.dev.frameErr = errors.New("timed out")
	f.c.cameraTick(context.Background())
	assert.Equal(t, 3, f.dev.captureCount())
}

func TestLookingAtFollowsPerson(t *testing.T) {
	f := newFixture(t)
	f.command(t, protocol.TypeSetState, "look-at")
	f.det.see(vision.BoundingBox{X: 280, Y: 0, W: 40, H: 40})

	f.c.cameraTick(context.Background())
	assert.Equal(t, LookingAt, f.c.State())
	assert.Equal(t, 1, f.anim.Len(), "gaze transition scheduled")

	box, ok := f.rep.last(protocol.TypePersonBBox).(*vision.BoundingBox)
	require.True(t, ok)
	assert.Equal(t, 280.0, box.X)

	f.tickUntil(50*time.Millisecond, 20, f.anim.AnimationEnded)
	assert.Greater(t, f.position(t, animation.EyeX), 50.0)
	assert.Greater(t, f.position(t, animation.NeckY), 50.0)
	assert.Equal(t, LookingAt, f.c.State(), "look-at never rests")
}

func TestAnimatingIgnoresPeople(t *testing.T) {
	f := newFixture(t)
	f.command(t, protocol.TypeStartAnimation, "wave")
	f.command(t, protocol.TypeSetVision, "true")
	f.det.see(vision.BoundingBox{X: 280, Y: 0, W: 40, H: 40})

	f.c.cameraTick(context.Background())
	assert.Equal(t, Animating, f.c.State())
	assert.Equal(t, 1, f.anim.Len())
}

func TestReactionWithTracking(t *testing.T) {
	f := newFixture(t)
	f.command(t, protocol.TypeSetState, "looking")
	f.det.see(vision.BoundingBox{X: 280, Y: 0, W: 40, H: 40})

	// Person found: the search is replaced by the last reaction, "nod"
	f.c.cameraTick(context.Background())
	assert.Equal(t, LookingAtAndAnimating, f.c.State())
	assert.Equal(t, `Reacting with "nod"`, f.rep.last(protocol.TypeLog))
	assert.Equal(t, 1, f.anim.Len())

	// Still tracking while the reaction plays
	f.c.cameraTick(context.Background())
	assert.Equal(t, 2, f.anim.Len(), "gaze runs beside the reaction")

	// Reaction ends: gaze returns to neutral and the state becomes Animating
	ok := f.tickUntil(50*time.Millisecond, 20, func() bool { return f.c.State() == Animating })
	require.True(t, ok)
	f.tickUntil(50*time.Millisecond, 20, func() bool {
		return f.position(t, animation.EyeX) == 50 && f.position(t, animation.NeckY) == 50
	})
	assert.Equal(t, 50.0, f.position(t, animation.EyeX))
	assert.Equal(t, 20.0, f.position(t, animation.Jaw))

	// Then rest, then search again
	ok = f.tickUntil(50*time.Millisecond, 40, func() bool { return f.c.State() == Looking })
	require.True(t, ok)
}

func TestReactionWithoutTracking(t *testing.T) {
	f := newFixture(t)
	f.c.intn = func(int) int { return 0 }
	f.command(t, protocol.TypeSetState, "looking")
	f.det.see(vision.BoundingBox{X: 0, Y: 0, W: 40, H: 40})

	f.c.cameraTick(context.Background())
	assert.Equal(t, Animating, f.c.State())
	assert.Equal(t, `Reacting with "wave"`, f.rep.last(protocol.TypeLog))
}

func TestReactionMisconfigured(t *testing.T) {
	f := newFixture(t)
	f.command(t, protocol.TypeSetState, "looking")
	f.store.opts.Animation.Reactions = nil
	f.det.see(vision.BoundingBox{X: 0, Y: 0, W: 40, H: 40})

	f.c.cameraTick(context.Background())
	assert.Equal(t, Looking, f.c.State())
	assert.Equal(t, 1, f.anim.Len(), "search keeps running")
	assert.Contains(t, f.rep.last(protocol.TypeLog), ErrNoReactions.Error())
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	f.command(t, protocol.TypeSetState, "looking")

	st := f.c.Status()
	assert.Equal(t, Looking, st.State)
	assert.True(t, st.Connected)
	assert.Equal(t, "192.168.1.42", st.Address)
	assert.Equal(t, 1, st.Animating)

	names, err := f.c.AnimationNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"nod", "search", "wave"}, names)
}

func TestLoopsSkipWhileDisconnected(t *testing.T) {
	f := newFixture(t)
	f.dev.setConnected(false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.c.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, f.rep.all(protocol.TypeServoCycle))
	assert.Empty(t, f.rep.all(protocol.TypeCameraCycle))

	f.dev.setConnected(true)
	require.Eventually(t, func() bool {
		return len(f.rep.all(protocol.TypeServoCycle)) > 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("loops did not stop")
	}
}
