package vad

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/readback-labs/readback-core/internal/audio"
)

// Exec runs an external classifier as a long-lived child process.
// Each frame is written to its stdin as a 4-byte little-endian length
// followed by the raw PCM, and the child answers with one JSON line:
//
//	{"speech": true, "confidence": 0.92}
type Exec struct {
	command string

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	closed bool
}

type execVerdict struct {
	Speech     bool    `json:"speech"`
	Confidence float64 `json:"confidence"`
}

func NewExec(command string) (*Exec, error) {
	if command == "" {
		return nil, fmt.Errorf("exec vad requires a command")
	}
	e := &Exec{command: command}
	if err := e.start(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Exec) start() error {
	args, err := shellwords.Parse(e.command)
	if err != nil {
		return fmt.Errorf("parse vad command: %w", err)
	}
	if len(args) == 0 {
		return fmt.Errorf("empty vad command")
	}

	cmd := exec.Command(args[0], args[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("vad stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("vad stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start vad process: %w", err)
	}

	e.cmd = cmd
	e.stdin = stdin
	e.stdout = bufio.NewReader(stdout)
	return nil
}

func (e *Exec) Classify(frame audio.Frame) (Verdict, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return Verdict{}, fmt.Errorf("vad process closed")
	}

	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(frame.PCM)))
	if _, err := e.stdin.Write(header[:]); err != nil {
		return Verdict{}, fmt.Errorf("write vad frame header: %w", err)
	}
	if _, err := e.stdin.Write(frame.PCM); err != nil {
		return Verdict{}, fmt.Errorf("write vad frame: %w", err)
	}

	line, err := e.stdout.ReadBytes('\n')
	if err != nil {
		return Verdict{}, fmt.Errorf("read vad verdict: %w", err)
	}
	var v execVerdict
	if err := json.Unmarshal(line, &v); err != nil {
		return Verdict{}, fmt.Errorf("decode vad verdict: %w", err)
	}
	return Verdict{Speech: v.Speech, Confidence: v.Confidence}, nil
}

func (e *Exec) Reset() {}

func (e *Exec) Engine() string { return "exec" }

func (e *Exec) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.stdin != nil {
		_ = e.stdin.Close()
	}
	if e.cmd != nil {
		return e.cmd.Wait()
	}
	return nil
}
