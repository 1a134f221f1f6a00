package display

import (
	"encoding/binary"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// to allow testing
var (
	sysfsGraphics = "/sys/class/graphics"
	mmap          = unix.Mmap
)

// Output is a device a composed canvas is published to.
type Output interface {
	Publish(c *Canvas) error
	Close() error
}

// Framebuffer is a memory mapped 32 bits per pixel framebuffer device.
type Framebuffer struct {
	f      *os.File
	mem    []byte
	width  int
	height int
	stride int
}

// OpenFramebuffer maps the device at path. A zero width or height is read
// from sysfs along with the line stride.
func OpenFramebuffer(path string, width, height int) (*Framebuffer, error) {
	stride := width * 4
	if width == 0 || height == 0 {
		var err error
		width, height, stride, err = fbGeometry(filepath.Base(path))
		if err != nil {
			return nil, err
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open framebuffer %s", path)
	}
	mem, err := mmap(int(f.Fd()), 0, stride*height, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "unable to map framebuffer %s", path)
	}
	log.WithField("width", width).
		WithField("height", height).
		WithField("stride", stride).
		Info("framebuffer mapped")
	return &Framebuffer{f: f, mem: mem, width: width, height: height, stride: stride}, nil
}

func fbGeometry(name string) (width, height, stride int, err error) {
	dir := filepath.Join(sysfsGraphics, name)
	size, err := os.ReadFile(filepath.Join(dir, "virtual_size"))
	if err != nil {
		return 0, 0, 0, errors.Wrap(err, "unable to read framebuffer size")
	}
	if _, err := fmt.Sscanf(strings.TrimSpace(string(size)), "%d,%d", &width, &height); err != nil {
		return 0, 0, 0, errors.Wrapf(err, "malformed framebuffer size %q", size)
	}
	s, err := os.ReadFile(filepath.Join(dir, "stride"))
	if err != nil {
		return 0, 0, 0, errors.Wrap(err, "unable to read framebuffer stride")
	}
	stride, err = strconv.Atoi(strings.TrimSpace(string(s)))
	if err != nil {
		return 0, 0, 0, errors.Wrapf(err, "malformed framebuffer stride %q", s)
	}
	if stride < width*4 {
		return 0, 0, 0, errors.Errorf("framebuffer stride %d too small for %d pixels", stride, width)
	}
	return width, height, stride, nil
}

func (fb *Framebuffer) Size() (int, int) {
	return fb.width, fb.height
}

// Publish copies the dirty part of the canvas into the mapping.
func (fb *Framebuffer) Publish(c *Canvas) error {
	if fb.mem == nil {
		return errors.New("framebuffer closed")
	}
	r := c.TakeDirty().Intersect(image.Rect(0, 0, fb.width, fb.height))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := fb.mem[y*fb.stride:]
		src := c.Pix[y*c.Width:]
		for x := r.Min.X; x < r.Max.X; x++ {
			binary.LittleEndian.PutUint32(row[x*4:], uint32(src[x]))
		}
	}
	return nil
}

func (fb *Framebuffer) Close() error {
	if fb.mem != nil {
		if err := unix.Munmap(fb.mem); err != nil {
			log.WithField("err", err).Warn("unable to unmap framebuffer")
		}
		fb.mem = nil
	}
	return fb.f.Close()
}

const consoleHeader = 4

// Console is a vcsa text console: a four byte header (rows, columns,
// cursor x, cursor y) followed by char and attribute byte pairs.
type Console struct {
	f          *os.File
	mem        []byte
	buf        []byte
	rows, cols int
}

// OpenConsole opens the vcsa device at path and reads its geometry. The
// cells are mapped when the device allows it, otherwise every publish is a
// single write.
func OpenConsole(path string) (*Console, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open console %s", path)
	}
	var hdr [consoleHeader]byte
	if _, err := f.ReadAt(hdr[:], 0); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "unable to read console header %s", path)
	}
	con := &Console{f: f, rows: int(hdr[0]), cols: int(hdr[1])}
	if con.rows == 0 || con.cols == 0 {
		f.Close()
		return nil, errors.Errorf("console %s reports no cells", path)
	}

	size := consoleHeader + 2*con.rows*con.cols
	mem, err := mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		log.WithField("err", err).Debug("console not mappable, writing instead")
		con.buf = make([]byte, size)
		copy(con.buf, hdr[:])
	} else {
		con.mem = mem
	}
	return con, nil
}

// Size returns columns and rows.
func (con *Console) Size() (int, int) {
	return con.cols, con.rows
}

// Publish copies every cell that fits the console. The header is left as
// it is.
func (con *Console) Publish(c *Canvas) error {
	dst := con.mem
	if dst == nil {
		dst = con.buf
	}
	cols := min(con.cols, c.Cols)
	rows := min(con.rows, c.Rows)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			binary.LittleEndian.PutUint16(dst[consoleHeader+2*(y*con.cols+x):], c.Cells[y*c.Cols+x])
		}
	}
	if con.mem != nil {
		return nil
	}
	_, err := con.f.WriteAt(con.buf[consoleHeader:], consoleHeader)
	return errors.Wrap(err, "console write")
}

func (con *Console) Close() error {
	if con.mem != nil {
		if err := unix.Munmap(con.mem); err != nil {
			log.WithField("err", err).Warn("unable to unmap console")
		}
		con.mem = nil
	}
	return con.f.Close()
}
