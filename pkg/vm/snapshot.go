package vm

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// machineState is the JSON-serializable snapshot of the machine registers.
type machineState struct {
	PC        uint32   `json:"pc"`
	SP        int      `json:"sp"`
	CSP       int      `json:"csp"`
	Calls     []uint32 `json:"calls"`
	Err       string   `json:"err"`
	ErrCode   Error    `json:"err_code"`
	Halted    bool     `json:"halted"`
	Waiting   bool     `json:"waiting"`
	Steps     uint64   `json:"steps"`
	FrameRate uint8    `json:"frame_rate"`
	Frames    uint64   `json:"frames"`
	ProgSize  int      `json:"prog_size"`
}

// SnapshotToBytes serialises the machine state into an in-memory ZIP archive.
// The program image is not included; it is read-only and reloaded on restore.
func (m *Machine) SnapshotToBytes() ([]byte, error) {
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)

	state := machineState{
		PC:        m.PC,
		SP:        m.SP,
		CSP:       m.CSP,
		Calls:     append([]uint32(nil), m.Calls[:m.CSP]...),
		ErrCode:   m.Err,
		Halted:    m.Halted,
		Waiting:   m.Waiting,
		Steps:     m.Steps,
		FrameRate: m.FrameRate,
		Frames:    m.Screen.Frames,
		ProgSize:  len(m.Prog),
	}
	if m.Err != ErrNone {
		state.Err = m.Err.Error()
	}

	jsonData, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal machine state: %w", err)
	}
	if err := writeZipEntry(zw, "machine.json", jsonData); err != nil {
		return nil, err
	}
	if err := writeZipEntry(zw, "stack.bin", m.Stack[:]); err != nil {
		return nil, err
	}
	if err := writeZipEntry(zw, "globals.bin", m.Globals[:]); err != nil {
		return nil, err
	}
	if err := writeZipEntry(zw, "screen_back.bin", m.Screen.Back[:]); err != nil {
		return nil, err
	}
	if err := writeZipEntry(zw, "screen_front.bin", m.Screen.Front[:]); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	return buf.Bytes(), nil
}

// RestoreFromBytes applies a snapshot produced by SnapshotToBytes. The
// machine must already hold the same program.
func (m *Machine) RestoreFromBytes(data []byte) error {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}

	fileMap := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		fileMap[f.Name] = f
	}

	jsonData, err := readZipEntry(fileMap, "machine.json")
	if err != nil {
		return err
	}
	var state machineState
	if err := json.Unmarshal(jsonData, &state); err != nil {
		return fmt.Errorf("unmarshal machine state: %w", err)
	}
	if state.ProgSize != len(m.Prog) {
		return fmt.Errorf("snapshot was taken with a %d-byte program, loaded program has %d bytes", state.ProgSize, len(m.Prog))
	}
	if state.SP < 0 || state.SP > StackSize || state.CSP < 0 || state.CSP > CallDepth || len(state.Calls) != state.CSP {
		return fmt.Errorf("snapshot state out of range: sp=%d csp=%d", state.SP, state.CSP)
	}

	m.PC = state.PC
	m.SP = state.SP
	m.CSP = state.CSP
	m.Calls = [CallDepth]uint32{}
	copy(m.Calls[:], state.Calls)
	m.Err = state.ErrCode
	m.Halted = state.Halted
	m.Waiting = state.Waiting
	m.Steps = state.Steps
	m.FrameRate = state.FrameRate

	for name, dst := range map[string][]byte{
		"stack.bin":        m.Stack[:],
		"globals.bin":      m.Globals[:],
		"screen_back.bin":  m.Screen.Back[:],
		"screen_front.bin": m.Screen.Front[:],
	} {
		d, err := readZipEntry(fileMap, name)
		if err != nil {
			return err
		}
		copy(dst, d)
	}
	m.Screen.Frames = state.Frames
	return nil
}

// SnapshotToFile writes the snapshot archive to path.
func (m *Machine) SnapshotToFile(path string) error {
	data, err := m.SnapshotToBytes()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// RestoreFromFile reads a snapshot archive from path.
func (m *Machine) RestoreFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return m.RestoreFromBytes(data)
}

// StackWord reads an n-byte little-endian value starting at stack index i.
func (m *Machine) StackWord(i, n int) uint32 {
	var b [4]byte
	copy(b[:], m.Stack[i:i+n])
	return binary.LittleEndian.Uint32(b[:])
}

func writeZipEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create zip entry %q: %w", name, err)
	}
	_, err = w.Write(data)
	return err
}

func readZipEntry(fileMap map[string]*zip.File, name string) ([]byte, error) {
	f, ok := fileMap[name]
	if !ok {
		return nil, fmt.Errorf("zip entry %q not found", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open zip entry %q: %w", name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
