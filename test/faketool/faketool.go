// Package faketool turns a test binary into a stand-in for tinymist.
//
// Call Main first thing in TestMain. When EnvVar is set the process behaves
// like the tool and exits; otherwise Main returns and the tests run:
//
//	func TestMain(m *testing.M) {
//		faketool.Main()
//		os.Exit(m.Run())
//	}
//
// Spawn os.Args[0] with Env(mode) appended to the environment.
package faketool

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const (
	// EnvVar switches a test binary into tool mode
	EnvVar = "TINYMISTD_FAKE_TOOL"
	// ModeVar selects the behaviour
	ModeVar = "TINYMISTD_FAKE_MODE"

	// Version is what -V prints
	Version = "tinymist 0.13.12"
	// Marker is printed once a server is ready
	Marker = "listening"
)

// Mode is how a fake server behaves
type Mode string

const (
	// ModeReady prints the marker and serves until terminated
	ModeReady Mode = "ready"
	// ModeStubborn prints the marker and ignores SIGTERM
	ModeStubborn Mode = "stubborn"
	// ModeSilent serves without ever printing the marker
	ModeSilent Mode = "silent"
	// ModeCrash exits with status 3 before becoming ready
	ModeCrash Mode = "crash"
	// ModeExitAfterReady prints the marker then exits shortly after
	ModeExitAfterReady Mode = "exit-after-ready"
	// ModeOldVersion reports a version below the required one on -V
	ModeOldVersion Mode = "old-version"
)

// Env returns the environment entries that make a spawned test binary act
// as the tool in mode
func Env(mode Mode) []string {
	return []string{EnvVar + "=1", ModeVar + "=" + string(mode)}
}

// Binary is the executable to spawn
func Binary() string {
	if exe, err := os.Executable(); err == nil {
		return exe
	}
	return os.Args[0]
}

// Main runs the fake tool and exits when EnvVar is set
func Main() {
	if os.Getenv(EnvVar) != "1" {
		return
	}
	os.Exit(run(Mode(os.Getenv(ModeVar)), os.Args[1:]))
}

func run(mode Mode, args []string) int {
	if mode == "" {
		mode = ModeReady
	}

	if len(args) > 0 && args[0] == "-V" {
		if mode == ModeOldVersion {
			fmt.Println("tinymist 0.1.0")
			return 0
		}
		fmt.Println(Version)
		return 0
	}

	sigs := make(chan os.Signal, 1)
	if mode == ModeStubborn {
		signal.Ignore(syscall.SIGTERM, os.Interrupt)
	} else {
		signal.Notify(sigs, syscall.SIGTERM, os.Interrupt)
	}

	switch mode {
	case ModeCrash:
		fmt.Fprintln(os.Stderr, "error: failed to compile document")
		return 3
	case ModeSilent:
	default:
		fmt.Printf("%s server %s on %s\n", subcommand(args), Marker, flagValue(args, "--data-plane-host"))
	}

	if mode == ModeExitAfterReady {
		time.Sleep(200 * time.Millisecond)
		return 0
	}

	select {
	case <-sigs:
		return 0
	case <-time.After(2 * time.Minute):
		return 0
	}
}

func flagValue(args []string, name string) string {
	for i, a := range args {
		if a == name && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func subcommand(args []string) string {
	if len(args) == 0 {
		return "tool"
	}
	return args[0]
}
