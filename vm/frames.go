package vm

// ---------------------------------------------------------------------------
// Call-frame and package state tracking
// ---------------------------------------------------------------------------

// Frame records one active invocation, for diagnostics and caller-style
// introspection. Frames never hold variable storage.
type Frame struct {
	Unit    *Unit
	Package string // package active when the frame was entered
	SubName string // "" for top-level and eval frames
}

// FrameStack is the per-interpreter-instance tracker: an explicit object
// threaded through execution rather than ambient thread-local state. Each
// logical execution thread owns exactly one FrameStack; nothing here is
// shared across threads.
type FrameStack struct {
	frames []Frame
	pkg    string // mutable current-package cell
}

// NewFrameStack returns a tracker positioned in the given package.
func NewFrameStack(pkg string) *FrameStack {
	if pkg == "" {
		pkg = "main"
	}
	return &FrameStack{pkg: pkg}
}

// PushFrame records entry into a unit. Every push is matched by exactly one
// PopFrame on all exit paths; callers pair them with defer.
func (fs *FrameStack) PushFrame(u *Unit, pkg, subName string) {
	fs.frames = append(fs.frames, Frame{Unit: u, Package: pkg, SubName: subName})
}

// PopFrame removes the most recent frame.
func (fs *FrameStack) PopFrame() {
	if len(fs.frames) == 0 {
		panic("vm: PopFrame on empty frame stack")
	}
	fs.frames = fs.frames[:len(fs.frames)-1]
}

// Depth returns the current frame count.
func (fs *FrameStack) Depth() int { return len(fs.frames) }

// CurrentFrame returns the most recent frame, or nil when the stack is empty.
func (fs *FrameStack) CurrentFrame() *Frame {
	if len(fs.frames) == 0 {
		return nil
	}
	return &fs.frames[len(fs.frames)-1]
}

// Stack returns the frames most-recent first.
func (fs *FrameStack) Stack() []Frame {
	out := make([]Frame, len(fs.frames))
	for i := range fs.frames {
		out[i] = fs.frames[len(fs.frames)-1-i]
	}
	return out
}

// CurrentPackage reads the mutable package cell.
func (fs *FrameStack) CurrentPackage() string { return fs.pkg }

// SetPackage mutates the package cell directly; used for unscoped package
// declarations.
func (fs *FrameStack) SetPackage(pkg string) { fs.pkg = pkg }

// SwapPackage sets the cell and returns the previous value, for scoped
// package blocks whose restore is guaranteed on scope exit.
func (fs *FrameStack) SwapPackage(pkg string) string {
	old := fs.pkg
	fs.pkg = pkg
	return old
}
