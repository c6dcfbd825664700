//go:build linux

package display

import (
	"fmt"
	"image"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/piframe/piframe/pkg/errors"
)

const (
	fbioGetVScreenInfo = 0x4600
	fbioGetFScreenInfo = 0x4602
)

// fbVarScreenInfo mirrors the kernel's fb_var_screeninfo up to the fields
// we need. The trailing fields are padding so the ioctl doesn't write past
// the struct.
type fbVarScreenInfo struct {
	XRes         uint32
	YRes         uint32
	XResVirtual  uint32
	YResVirtual  uint32
	XOffset      uint32
	YOffset      uint32
	BitsPerPixel uint32
	Grayscale    uint32
	Red          fbBitfield
	Green        fbBitfield
	Blue         fbBitfield
	Transp       fbBitfield
	NonStd       uint32
	Activate     uint32
	Height       uint32
	Width        uint32
	AccelFlags   uint32
	Pad          [80]byte
}

type fbBitfield struct {
	Offset   uint32
	Length   uint32
	MSBRight uint32
}

type fbFixScreenInfo struct {
	ID         [16]byte
	SMemStart  uintptr
	SMemLen    uint32
	Type       uint32
	TypeAux    uint32
	Visual     uint32
	XPanStep   uint16
	YPanStep   uint16
	YWrapStep  uint16
	LineLength uint32
	Pad        [64]byte
}

// Framebuffer renders directly to a Linux framebuffer device, the normal
// mode on a Raspberry Pi without X.
type Framebuffer struct {
	file   *os.File
	mem    []byte
	bounds image.Rectangle

	bitsPerPixel uint32
	lineLength   uint32
}

// OpenFramebuffer opens and maps the framebuffer device, typically
// /dev/fb0.
func OpenFramebuffer(device string) (Renderer, error) {
	file, err := os.OpenFile(device, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.NewFriendlyError(
			"Couldn't open the framebuffer device %q: %s.\n"+
				"Check that the device exists and that the user is in the "+
				"\"video\" group.", device, err)
	}

	var varInfo fbVarScreenInfo
	if err := ioctl(file.Fd(), fbioGetVScreenInfo,
		unsafe.Pointer(&varInfo)); err != nil {
		file.Close()
		return nil, errors.WithContext(err, "read screen info")
	}

	var fixInfo fbFixScreenInfo
	if err := ioctl(file.Fd(), fbioGetFScreenInfo,
		unsafe.Pointer(&fixInfo)); err != nil {
		file.Close()
		return nil, errors.WithContext(err, "read fixed screen info")
	}

	if varInfo.BitsPerPixel != 16 && varInfo.BitsPerPixel != 32 {
		file.Close()
		return nil, errors.New(fmt.Sprintf(
			"unsupported framebuffer depth %d bpp", varInfo.BitsPerPixel))
	}

	mem, err := unix.Mmap(int(file.Fd()), 0, int(fixInfo.SMemLen),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, errors.WithContext(err, "map framebuffer")
	}

	return &Framebuffer{
		file:         file,
		mem:          mem,
		bounds:       image.Rect(0, 0, int(varInfo.XRes), int(varInfo.YRes)),
		bitsPerPixel: varInfo.BitsPerPixel,
		lineLength:   fixInfo.LineLength,
	}, nil
}

func ioctl(fd uintptr, request uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(request),
		uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func (f *Framebuffer) Bounds() image.Rectangle {
	return f.bounds
}

// Render blits the frame into the mapped framebuffer. The frame must
// already match the screen bounds.
func (f *Framebuffer) Render(img image.Image) error {
	if img.Bounds().Dx() != f.bounds.Dx() || img.Bounds().Dy() != f.bounds.Dy() {
		return errors.New(fmt.Sprintf("frame is %v, screen is %v",
			img.Bounds(), f.bounds))
	}

	for y := 0; y < f.bounds.Dy(); y++ {
		row := f.mem[y*int(f.lineLength):]
		for x := 0; x < f.bounds.Dx(); x++ {
			r, g, b, _ := img.At(img.Bounds().Min.X+x, img.Bounds().Min.Y+y).RGBA()

			switch f.bitsPerPixel {
			case 32:
				offset := x * 4
				row[offset] = byte(b >> 8)
				row[offset+1] = byte(g >> 8)
				row[offset+2] = byte(r >> 8)
				row[offset+3] = 0xff
			case 16:
				// RGB565.
				pixel := uint16(r>>11)<<11 | uint16(g>>10)<<5 | uint16(b>>11)
				offset := x * 2
				row[offset] = byte(pixel)
				row[offset+1] = byte(pixel >> 8)
			}
		}
	}
	return nil
}

func (f *Framebuffer) Close() error {
	if err := unix.Munmap(f.mem); err != nil {
		f.file.Close()
		return errors.WithContext(err, "unmap framebuffer")
	}
	return f.file.Close()
}
