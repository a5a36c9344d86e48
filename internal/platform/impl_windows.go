//go:build windows
// +build windows

package platform

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

const hookSource = "win-ll-hook"

type windowsImpl struct {
	activityCallback func(ActivityEvent)
	hookThreadID     uint32
	hooksDone        chan struct{}
	stopped          bool
	mu               sync.Mutex
}

var (
	user32   = windows.NewLazyDLL("user32.dll")
	kernel32 = windows.NewLazyDLL("kernel32.dll")
	psapi    = windows.NewLazyDLL("psapi.dll")

	procGetForegroundWindow      = user32.NewProc("GetForegroundWindow")
	procGetWindowTextW           = user32.NewProc("GetWindowTextW")
	procGetWindowTextLength      = user32.NewProc("GetWindowTextLengthW")
	procGetWindowThreadProcessId = user32.NewProc("GetWindowThreadProcessId")
	procIsWindowVisible          = user32.NewProc("IsWindowVisible")
	procSetWindowsHookEx         = user32.NewProc("SetWindowsHookExW")
	procUnhookWindowsHookEx      = user32.NewProc("UnhookWindowsHookEx")
	procCallNextHookEx           = user32.NewProc("CallNextHookEx")
	procGetMessageW              = user32.NewProc("GetMessageW")
	procPostThreadMessageW       = user32.NewProc("PostThreadMessageW")

	procGetModuleFileNameEx = psapi.NewProc("GetModuleFileNameExW")
	procOpenProcess         = kernel32.NewProc("OpenProcess")
	procCloseHandle         = kernel32.NewProc("CloseHandle")
	procGetCurrentThreadId  = kernel32.NewProc("GetCurrentThreadId")
)

const (
	WH_MOUSE_LL               = 14
	WH_KEYBOARD_LL            = 13
	WM_QUIT                   = 0x0012
	WM_MOUSEMOVE              = 0x0200
	WM_LBUTTONDOWN            = 0x0201
	WM_RBUTTONDOWN            = 0x0204
	WM_MBUTTONDOWN            = 0x0207
	WM_MOUSEWHEEL             = 0x020A
	WM_MOUSEHWHEEL            = 0x020E
	WM_KEYDOWN                = 0x0100
	WM_SYSKEYDOWN             = 0x0104
	PROCESS_QUERY_INFORMATION = 0x0400
	PROCESS_VM_READ           = 0x0010
)

// kbdllHookStruct mirrors KBDLLHOOKSTRUCT
type kbdllHookStruct struct {
	VkCode      uint32
	ScanCode    uint32
	Flags       uint32
	Time        uint32
	DwExtraInfo uintptr
}

type msg struct {
	Hwnd    uintptr
	Message uint32
	WParam  uintptr
	LParam  uintptr
	Time    uint32
	PtX     int32
	PtY     int32
}

func newPlatform() (Platform, error) {
	return &windowsImpl{}, nil
}

func (p *windowsImpl) GetActiveWindow() (*WindowInfo, error) {
	hwnd, _, _ := procGetForegroundWindow.Call()
	if hwnd == 0 {
		return nil, fmt.Errorf("failed to get foreground window")
	}

	var processID uint32
	procGetWindowThreadProcessId.Call(hwnd, uintptr(unsafe.Pointer(&processID)))
	processPath := p.getProcessPath(int(processID))

	title := ""
	if length, _, _ := procGetWindowTextLength.Call(hwnd); length > 0 {
		buf := make([]uint16, length+1)
		procGetWindowTextW.Call(hwnd, uintptr(unsafe.Pointer(&buf[0])), length+1)
		title = windows.UTF16ToString(buf)
	}

	visible, _, _ := procIsWindowVisible.Call(hwnd)

	return &WindowInfo{
		Title:       title,
		Application: applicationName(processPath),
		ProcessID:   int(processID),
		ProcessPath: processPath,
		IsVisible:   visible != 0,
		Timestamp:   time.Now(),
	}, nil
}

func (p *windowsImpl) getProcessPath(processID int) string {
	if processID == 0 {
		return ""
	}

	handle, _, _ := procOpenProcess.Call(
		PROCESS_QUERY_INFORMATION|PROCESS_VM_READ,
		0,
		uintptr(processID),
	)
	if handle == 0 {
		return ""
	}
	defer procCloseHandle.Call(handle)

	buf := make([]uint16, 260)
	ret, _, _ := procGetModuleFileNameEx.Call(
		handle,
		0,
		uintptr(unsafe.Pointer(&buf[0])),
		260,
	)
	if ret == 0 {
		return ""
	}

	return windows.UTF16ToString(buf)
}

func applicationName(processPath string) string {
	if processPath == "" {
		return ""
	}
	parts := strings.Split(processPath, "\\")
	return strings.TrimSuffix(parts[len(parts)-1], ".exe")
}

// StartActivityMonitoring installs both low-level hooks on a dedicated,
// locked OS thread that pumps messages; low-level hooks are only called
// while their installing thread runs a message loop.
func (p *windowsImpl) StartActivityMonitoring(callback func(ActivityEvent)) error {
	p.mu.Lock()
	if p.hooksDone != nil {
		p.mu.Unlock()
		return fmt.Errorf("activity monitoring already running")
	}
	p.activityCallback = callback
	p.stopped = false
	p.hooksDone = make(chan struct{})
	done := p.hooksDone
	p.mu.Unlock()

	started := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer close(done)

		mouseHook, _, _ := procSetWindowsHookEx.Call(WH_MOUSE_LL, syscall.NewCallback(p.mouseHookProc), 0, 0)
		if mouseHook == 0 {
			started <- fmt.Errorf("failed to set mouse hook")
			return
		}
		defer procUnhookWindowsHookEx.Call(mouseHook)

		keyboardHook, _, _ := procSetWindowsHookEx.Call(WH_KEYBOARD_LL, syscall.NewCallback(p.keyboardHookProc), 0, 0)
		if keyboardHook == 0 {
			started <- fmt.Errorf("failed to set keyboard hook")
			return
		}
		defer procUnhookWindowsHookEx.Call(keyboardHook)

		threadID, _, _ := procGetCurrentThreadId.Call()
		p.mu.Lock()
		p.hookThreadID = uint32(threadID)
		p.mu.Unlock()
		started <- nil

		var m msg
		for {
			ret, _, _ := procGetMessageW.Call(uintptr(unsafe.Pointer(&m)), 0, 0, 0)
			if int32(ret) <= 0 {
				return
			}
		}
	}()

	if err := <-started; err != nil {
		p.mu.Lock()
		p.hooksDone = nil
		p.mu.Unlock()
		return err
	}
	return nil
}

func (p *windowsImpl) StopActivityMonitoring() error {
	p.mu.Lock()
	p.stopped = true
	p.activityCallback = nil
	threadID := p.hookThreadID
	done := p.hooksDone
	p.hookThreadID = 0
	p.hooksDone = nil
	p.mu.Unlock()

	if done == nil {
		return nil
	}
	procPostThreadMessageW.Call(uintptr(threadID), WM_QUIT, 0, 0)

	select {
	case <-done:
	case <-time.After(time.Second):
		return fmt.Errorf("hook thread did not exit")
	}
	return nil
}

func (p *windowsImpl) emit(kind ActivityKind, identifier string, continuous bool) {
	p.mu.Lock()
	stopped := p.stopped
	callback := p.activityCallback
	p.mu.Unlock()

	if stopped || callback == nil {
		return
	}
	callback(ActivityEvent{
		Kind:       kind,
		Identifier: identifier,
		Source:     hookSource,
		Continuous: continuous,
		Timestamp:  time.Now(),
	})
}

func (p *windowsImpl) mouseHookProc(nCode int, wParam uintptr, lParam uintptr) uintptr {
	if nCode >= 0 {
		switch wParam {
		case WM_MOUSEMOVE:
			p.emit(ActivityMouseMove, IdentifierAny, true)
		case WM_LBUTTONDOWN:
			p.emit(ActivityMouseClick, "left", false)
		case WM_RBUTTONDOWN:
			p.emit(ActivityMouseClick, "right", false)
		case WM_MBUTTONDOWN:
			p.emit(ActivityMouseClick, "middle", false)
		case WM_MOUSEWHEEL, WM_MOUSEHWHEEL:
			p.emit(ActivityMouseScroll, IdentifierAny, false)
		}
	}
	ret, _, _ := procCallNextHookEx.Call(0, uintptr(nCode), wParam, lParam)
	return ret
}

func (p *windowsImpl) keyboardHookProc(nCode int, wParam uintptr, lParam uintptr) uintptr {
	if nCode >= 0 && (wParam == WM_KEYDOWN || wParam == WM_SYSKEYDOWN) {
		kb := (*kbdllHookStruct)(unsafe.Pointer(lParam))
		p.emit(ActivityKeyPress, "vk"+strconv.FormatUint(uint64(kb.VkCode), 10), false)
	}
	ret, _, _ := procCallNextHookEx.Call(0, uintptr(nCode), wParam, lParam)
	return ret
}

func (p *windowsImpl) GetSystemInfo() (*SystemInfo, error) {
	hostname, _ := os.Hostname()
	return &SystemInfo{
		OS:        "windows",
		OSVersion: runtime.GOOS,
		Arch:      runtime.GOARCH,
		Hostname:  hostname,
	}, nil
}

const captureScript = `Add-Type -AssemblyName System.Windows.Forms,System.Drawing;` +
	`$b=[System.Windows.Forms.Screen]::PrimaryScreen.Bounds;` +
	`$bmp=New-Object System.Drawing.Bitmap $b.Width,$b.Height;` +
	`$g=[System.Drawing.Graphics]::FromImage($bmp);` +
	`$g.CopyFromScreen($b.Location,[System.Drawing.Point]::Empty,$b.Size);` +
	`$bmp.Save('%s',[System.Drawing.Imaging.ImageFormat]::Png)`

func (p *windowsImpl) CaptureScreenshot(path string) error {
	script := fmt.Sprintf(captureScript, strings.ReplaceAll(path, "'", "''"))
	cmd := exec.Command("powershell", "-NoProfile", "-NonInteractive", "-Command", script)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("screenshot failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
