package vm

import "testing"

func TestFrameStackPushPop(t *testing.T) {
	fs := NewFrameStack("")
	if fs.Depth() != 0 || fs.CurrentFrame() != nil {
		t.Fatal("new stack should be empty")
	}
	u := &Unit{Name: "main.plt"}
	fs.PushFrame(u, "main", "")
	fs.PushFrame(u, "main", "helper")
	if fs.Depth() != 2 {
		t.Fatalf("depth = %d, want 2", fs.Depth())
	}
	if fs.CurrentFrame().SubName != "helper" {
		t.Errorf("current = %q", fs.CurrentFrame().SubName)
	}
	fs.PopFrame()
	if fs.CurrentFrame().SubName != "" {
		t.Error("pop did not expose the caller frame")
	}
}

func TestFrameStackOrder(t *testing.T) {
	fs := NewFrameStack("main")
	u := &Unit{Name: "main.plt"}
	fs.PushFrame(u, "main", "outer")
	fs.PushFrame(u, "main", "inner")
	stack := fs.Stack()
	if len(stack) != 2 || stack[0].SubName != "inner" || stack[1].SubName != "outer" {
		t.Errorf("stack order wrong: %+v", stack)
	}
}

func TestFrameStackPopEmptyPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("PopFrame on an empty stack should panic")
		}
	}()
	NewFrameStack("main").PopFrame()
}

func TestPackageCell(t *testing.T) {
	fs := NewFrameStack("")
	if fs.CurrentPackage() != "main" {
		t.Errorf("default package = %q, want main", fs.CurrentPackage())
	}
	fs.SetPackage("Math")
	if fs.CurrentPackage() != "Math" {
		t.Error("SetPackage broken")
	}
	old := fs.SwapPackage("Util")
	if old != "Math" || fs.CurrentPackage() != "Util" {
		t.Errorf("SwapPackage gave old=%q cur=%q", old, fs.CurrentPackage())
	}
}
