package media

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"
)

type atomHeader struct {
	size      int64
	headerLen int64
	atomType  string
	start     int64
}

// MP4Duration reads the movie duration from an ISO Base Media (MP4/MOV)
// container by locating the mvhd atom. No frames are decoded.
func MP4Duration(path string) (time.Duration, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	return durationFromReader(file)
}

// DurationSeconds probes a video file and returns its duration in
// seconds, or zero when the file is missing or not a parseable MP4.
func DurationSeconds(path string) float64 {
	d, err := MP4Duration(path)
	if err != nil {
		return 0
	}
	return d.Seconds()
}

func durationFromReader(r io.ReadSeeker) (time.Duration, error) {
	fileSize, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}

	for {
		pos, err := r.Seek(0, io.SeekCurrent)
		if err != nil {
			return 0, err
		}
		if pos >= fileSize {
			break
		}

		header, err := readAtomHeader(r, fileSize)
		if err != nil {
			return 0, err
		}

		payload := header.size - header.headerLen
		if header.atomType == "moov" {
			return findMovieHeader(r, header.start+header.size)
		}
		if _, err := r.Seek(payload, io.SeekCurrent); err != nil {
			return 0, err
		}
	}

	return 0, fmt.Errorf("moov atom not found in media file")
}

func readAtomHeader(r io.ReadSeeker, limit int64) (atomHeader, error) {
	start, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return atomHeader{}, err
	}

	header := atomHeader{start: start, headerLen: 8}

	var base [8]byte
	if _, err := io.ReadFull(r, base[:]); err != nil {
		return atomHeader{}, err
	}
	header.atomType = string(base[4:8])

	size := binary.BigEndian.Uint32(base[:4])
	switch size {
	case 0:
		// Atom extends to the end of the enclosing scope.
		header.size = limit - start
	case 1:
		var large [8]byte
		if _, err := io.ReadFull(r, large[:]); err != nil {
			return atomHeader{}, err
		}
		header.headerLen += 8
		header.size = int64(binary.BigEndian.Uint64(large[:]))
	default:
		header.size = int64(size)
	}

	if header.size < header.headerLen {
		return atomHeader{}, fmt.Errorf("invalid atom size for %s", header.atomType)
	}
	if header.start+header.size > limit {
		return atomHeader{}, fmt.Errorf("atom %s exceeds parent bounds", header.atomType)
	}

	return header, nil
}

func findMovieHeader(r io.ReadSeeker, endOffset int64) (time.Duration, error) {
	for {
		pos, err := r.Seek(0, io.SeekCurrent)
		if err != nil {
			return 0, err
		}
		if pos >= endOffset {
			break
		}

		header, err := readAtomHeader(r, endOffset)
		if err != nil {
			return 0, err
		}

		payload := header.size - header.headerLen
		if header.atomType == "mvhd" {
			return readMovieHeader(r, payload)
		}
		if _, err := r.Seek(payload, io.SeekCurrent); err != nil {
			return 0, err
		}
	}

	return 0, fmt.Errorf("mvhd atom not found in moov container")
}

func readMovieHeader(r io.ReadSeeker, payloadSize int64) (time.Duration, error) {
	if payloadSize < 4 {
		return 0, fmt.Errorf("mvhd atom too small")
	}

	var versionAndFlags [4]byte
	if _, err := io.ReadFull(r, versionAndFlags[:]); err != nil {
		return 0, err
	}
	version := versionAndFlags[0]
	consumed := int64(4)

	var timescale uint32
	var ticks uint64

	switch version {
	case 0:
		if payloadSize-consumed < 16 {
			return 0, fmt.Errorf("mvhd payload too small for version 0")
		}
		var data [16]byte
		if _, err := io.ReadFull(r, data[:]); err != nil {
			return 0, err
		}
		consumed += 16
		timescale = binary.BigEndian.Uint32(data[8:12])
		ticks = uint64(binary.BigEndian.Uint32(data[12:16]))
	case 1:
		if payloadSize-consumed < 28 {
			return 0, fmt.Errorf("mvhd payload too small for version 1")
		}
		var data [28]byte
		if _, err := io.ReadFull(r, data[:]); err != nil {
			return 0, err
		}
		consumed += 28
		timescale = binary.BigEndian.Uint32(data[16:20])
		ticks = binary.BigEndian.Uint64(data[20:28])
	default:
		return 0, fmt.Errorf("unsupported mvhd version %d", version)
	}

	if timescale == 0 {
		return 0, fmt.Errorf("mvhd timescale is zero")
	}

	if payloadSize > consumed {
		if _, err := r.Seek(payloadSize-consumed, io.SeekCurrent); err != nil {
			return 0, err
		}
	}

	seconds := float64(ticks) / float64(timescale)
	return time.Duration(seconds * float64(time.Second)), nil
}
