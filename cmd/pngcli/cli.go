package main

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/Geek0x0/png"
)

func main() {
	mode := flag.String("mode", "info", "Output mode: info, ppm, raw")
	maxPixels := flag.Int64("max-pixel-bytes", 0, "Pixel buffer limit in bytes (0 = library default)")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: pngcli [options] file.png")
		flag.PrintDefaults()
		os.Exit(2)
	}

	path := flag.Arg(0)
	data, release, err := readInput(path)
	if err != nil {
		log.Fatalf("read %s: %v", path, err)
	}
	defer release()

	limits := png.DefaultDecodeLimits()
	if *maxPixels > 0 {
		limits.MaxPixelBytes = *maxPixels
	}

	img, err := decode(data, limits)
	if err != nil {
		log.Fatalf("decode %s: %v", path, err)
	}
	for _, w := range img.Warnings {
		fmt.Fprintf(os.Stderr, "pngcli: warning: %v\n", w)
	}

	switch *mode {
	case "info":
		handleInfo(path, img)
	case "ppm":
		handlePPM(img)
	case "raw":
		handleRaw(img)
	default:
		log.Fatalf("unknown mode %q", *mode)
	}
}

func decode(data []byte, limits png.DecodeLimits) (*png.Image, error) {
	return png.DecodeWithLimits(bytes.NewReader(data), limits)
}

func handleInfo(path string, img *png.Image) {
	fmt.Printf("%s: %dx%d %s, %d-bit, %d pixel bytes\n",
		path, img.Width, img.Height, img.ColorType, img.BitDepth, len(img.Pixels))
}

// handlePPM writes RGB images as binary PPM (P6) and RGBA images as PAM
// (P7). Both formats take big-endian samples, which is what Pixels already
// holds.
func handlePPM(img *png.Image) {
	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()

	maxval := 255
	if img.BitDepth == 16 {
		maxval = 65535
	}

	if img.ColorType == png.ColorRGB {
		fmt.Fprintf(w, "P6\n%d %d\n%d\n", img.Width, img.Height, maxval)
	} else {
		fmt.Fprintf(w, "P7\nWIDTH %d\nHEIGHT %d\nDEPTH 4\nMAXVAL %d\nTUPLTYPE RGB_ALPHA\nENDHDR\n",
			img.Width, img.Height, maxval)
	}
	if _, err := w.Write(img.Pixels); err != nil {
		log.Fatalf("write output: %v", err)
	}
}

func handleRaw(img *png.Image) {
	if _, err := os.Stdout.Write(img.Pixels); err != nil {
		log.Fatalf("write output: %v", err)
	}
}
