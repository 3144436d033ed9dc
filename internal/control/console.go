package control

import (
	"context"
	"fmt"
	"strconv"

	"github.com/loykin/serverctl/internal/resolver"
)

// ConsoleSignaler stops Windows console servers through PowerShell and taskkill.
type ConsoleSignaler struct {
	run resolver.Runner
}

const keystrokeScript = `Add-Type -TypeDefinition '
using System;
using System.Runtime.InteropServices;
public class ConsoleKeys {
  [DllImport("user32.dll")] public static extern bool SetForegroundWindow(IntPtr hWnd);
  [DllImport("user32.dll")] public static extern void keybd_event(byte bVk, byte bScan, uint dwFlags, uint dwExtraInfo);
  [DllImport("user32.dll")] public static extern uint GetWindowThreadProcessId(IntPtr hWnd, out uint pid);
  [DllImport("kernel32.dll")] public static extern IntPtr GetConsoleWindow();
  public static bool SendCtrlC(uint target) {
    IntPtr w = GetConsoleWindow();
    if (w == IntPtr.Zero) { return false; }
    uint owner;
    GetWindowThreadProcessId(w, out owner);
    if (owner != target) { return false; }
    SetForegroundWindow(w);
    keybd_event(0x11, 0, 0, 0);
    keybd_event(0x43, 0, 0, 0);
    keybd_event(0x43, 0, 2, 0);
    keybd_event(0x11, 0, 2, 0);
    return true;
  }
}';
[ConsoleKeys]::SendCtrlC(%d)`

const ctrlEventScript = `Add-Type -TypeDefinition '
using System;
using System.Runtime.InteropServices;
public class ConsoleCtrl {
  [DllImport("kernel32.dll", SetLastError=true)] public static extern bool GenerateConsoleCtrlEvent(uint ev, uint group);
}';
[ConsoleCtrl]::GenerateConsoleCtrlEvent(%d, %d)`

const (
	ctrlCEvent     = 0
	ctrlBreakEvent = 1
)

func (s *ConsoleSignaler) GracefulSteps(t int) []Step {
	return []Step{
		{Stage: StageKeystroke, Budget: min(t, 60), Deliver: s.keystroke},
		{Stage: StageCtrlC, Budget: min(t/2, 30), Deliver: s.ctrlEvent(ctrlCEvent)},
		{Stage: StageCtrlBreak, Budget: min(t/3, 20), Deliver: s.ctrlEvent(ctrlBreakEvent)},
		{Stage: StageTaskkill, Budget: min(t/4, 15), Deliver: s.taskkill},
	}
}

func (s *ConsoleSignaler) keystroke(ctx context.Context, pid int64) error {
	return s.powershell(ctx, fmt.Sprintf(keystrokeScript, pid))
}

func (s *ConsoleSignaler) ctrlEvent(ev int) func(context.Context, int64) error {
	return func(ctx context.Context, pid int64) error {
		return s.powershell(ctx, fmt.Sprintf(ctrlEventScript, ev, pid))
	}
}

func (s *ConsoleSignaler) powershell(ctx context.Context, script string) error {
	out, err := s.run.Output(ctx, "powershell", "-NoProfile", "-Command", script)
	if err != nil {
		return err
	}
	if outputSaysFalse(out) {
		return errNotDelivered
	}
	return nil
}

func (s *ConsoleSignaler) taskkill(ctx context.Context, pid int64) error {
	_, err := s.run.Output(ctx, "taskkill", "/PID", strconv.FormatInt(pid, 10))
	return err
}

func (s *ConsoleSignaler) Kill(ctx context.Context, pid int64) error {
	_, err := s.run.Output(ctx, "taskkill", "/F", "/PID", strconv.FormatInt(pid, 10))
	return err
}
