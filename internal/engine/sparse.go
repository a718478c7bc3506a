package engine

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

// segment describes a contiguous region of a file.
type segment struct {
	offset int64
	length int64
	isData bool
}

// detectSparseSegments walks SEEK_DATA/SEEK_HOLE to map out the sparse
// layout of a file. Returns a single data segment covering the whole file
// if the filesystem doesn't support sparse detection.
func detectSparseSegments(fd int, fileSize int64) ([]segment, error) {
	if fileSize == 0 {
		return nil, nil
	}

	var segments []segment
	offset := int64(0)

	for offset < fileSize {
		dataStart, err := unix.Seek(fd, offset, unix.SEEK_DATA)
		if err != nil {
			if errors.Is(err, syscall.ENXIO) {
				// Rest of file is a hole.
				segments = append(segments, segment{
					offset: offset,
					length: fileSize - offset,
					isData: false,
				})
				break
			}
			if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTSUP) {
				return wholeFileSegment(fileSize), nil
			}
			return nil, err
		}

		if dataStart > offset {
			segments = append(segments, segment{
				offset: offset,
				length: dataStart - offset,
				isData: false,
			})
		}

		holeStart, err := unix.Seek(fd, dataStart, unix.SEEK_HOLE)
		if err != nil {
			switch {
			case errors.Is(err, syscall.ENXIO):
				// Data extends to EOF.
				holeStart = fileSize
			case errors.Is(err, syscall.EINVAL), errors.Is(err, syscall.ENOTSUP):
				return wholeFileSegment(fileSize), nil
			default:
				return nil, err
			}
		}
		if holeStart > fileSize {
			holeStart = fileSize
		}

		segments = append(segments, segment{
			offset: dataStart,
			length: holeStart - dataStart,
			isData: true,
		})
		offset = holeStart
	}

	if len(segments) == 0 {
		return wholeFileSegment(fileSize), nil
	}
	return segments, nil
}

func wholeFileSegment(size int64) []segment {
	return []segment{{offset: 0, length: size, isData: true}}
}
