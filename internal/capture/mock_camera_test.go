package capture

import (
	"errors"
	"testing"

	"gocv.io/x/gocv"
)

// encodeSolid returns a PNG of a width x height frame filled with value.
func encodeSolid(t *testing.T, width, height int, value float64) []byte {
	t.Helper()

	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(value, value, value, 0), height, width, gocv.MatTypeCV8UC3)
	defer mat.Close()

	buf, err := gocv.IMEncode(gocv.PNGFileExt, mat)
	if err != nil {
		t.Fatalf("failed to encode test frame: %v", err)
	}
	defer buf.Close()

	return append([]byte(nil), buf.GetBytes()...)
}

func TestMockCamera_Playback(t *testing.T) {
	cam := NewMockCamera([][]byte{encodeSolid(t, 32, 24, 0), encodeSolid(t, 32, 24, 255)}, false)

	if _, err := cam.ReadFrame(); !errors.Is(err, ErrCameraNotOpen) {
		t.Errorf("expected ErrCameraNotOpen before Open, got %v", err)
	}

	if err := cam.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer cam.Close()

	for i, want := range []uint8{0, 255} {
		f, err := cam.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame() %d error = %v", i, err)
		}
		if f.Cols() != 32 || f.Rows() != 24 {
			t.Errorf("frame %d: got %dx%d, want 32x24", i, f.Cols(), f.Rows())
		}
		if got := f.GetUCharAt(0, 0); got != want {
			t.Errorf("frame %d: got pixel %d, want %d", i, got, want)
		}
		f.Close()
	}

	// Third read should fail (no loop)
	if _, err := cam.ReadFrame(); !errors.Is(err, ErrNoMoreFrames) {
		t.Errorf("expected ErrNoMoreFrames, got %v", err)
	}
	if cam.Reads() != 3 {
		t.Errorf("got %d reads, want 3", cam.Reads())
	}
}

func TestMockCamera_Loop(t *testing.T) {
	cam := NewMockCamera([][]byte{encodeSolid(t, 8, 8, 128)}, true)
	cam.Open()
	defer cam.Close()

	for i := 0; i < 5; i++ {
		f, err := cam.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame() iteration %d error = %v", i, err)
		}
		f.Close()
	}
}

func TestMockCamera_SetError(t *testing.T) {
	cam := NewMockCamera([][]byte{encodeSolid(t, 8, 8, 0)}, true)
	cam.Open()
	defer cam.Close()

	boom := errors.New("device unplugged")
	cam.SetError(boom)
	if _, err := cam.ReadFrame(); !errors.Is(err, boom) {
		t.Errorf("expected injected error, got %v", err)
	}

	cam.SetError(nil)
	f, err := cam.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() after clearing error = %v", err)
	}
	f.Close()
}

func TestMockCamera_NoImages(t *testing.T) {
	cam := NewMockCamera(nil, true)
	cam.Open()

	if _, err := cam.ReadFrame(); !errors.Is(err, ErrEmptyFrame) {
		t.Errorf("expected ErrEmptyFrame, got %v", err)
	}
}

func TestGrab(t *testing.T) {
	cam := NewMockCamera([][]byte{encodeSolid(t, 40, 30, 200)}, false)
	cam.Open()
	defer cam.Close()

	frame, err := Grab(cam, 90)
	if err != nil {
		t.Fatalf("Grab() error = %v", err)
	}
	if frame.Width != 40 || frame.Height != 30 {
		t.Errorf("got %dx%d, want 40x30", frame.Width, frame.Height)
	}
	if len(frame.JPEG) < 2 || frame.JPEG[0] != 0xFF || frame.JPEG[1] != 0xD8 {
		t.Error("frame should be JPEG encoded")
	}
	if frame.Timestamp.IsZero() {
		t.Error("frame should carry a timestamp")
	}

	// The encoded frame decodes back to the same size
	mat, err := gocv.IMDecode(frame.JPEG, gocv.IMReadColor)
	if err != nil {
		t.Fatalf("failed to decode grabbed frame: %v", err)
	}
	defer mat.Close()
	if mat.Cols() != 40 || mat.Rows() != 30 {
		t.Errorf("decoded %dx%d, want 40x30", mat.Cols(), mat.Rows())
	}
}

func TestEncodeJPEG_Empty(t *testing.T) {
	mat := gocv.NewMat()
	defer mat.Close()

	if _, err := EncodeJPEG(mat, 80); !errors.Is(err, ErrEmptyFrame) {
		t.Errorf("expected ErrEmptyFrame, got %v", err)
	}
}
