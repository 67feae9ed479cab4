package pointcloud

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// ReadRows parses whitespace separated numeric rows. Blank lines and lines starting with # are
// skipped.
func ReadRows(in io.Reader) ([][]float64, error) {
	var rows [][]float64
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, pcdCommentChar) {
			continue
		}
		tokens := strings.Fields(line)
		row := make([]float64, len(tokens))
		for i, token := range tokens {
			v, err := strconv.ParseFloat(token, 64)
			if err != nil {
				return nil, errors.Errorf("line %d: invalid value %q", lineNum, token)
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// ReadText reads a point cloud from whitespace separated rows; the first three columns of each
// row are the position. Any other column is ignored.
func ReadText(in io.Reader) (*PointCloud, error) {
	rows, err := ReadRows(in)
	if err != nil {
		return nil, newDecodeError("text", err)
	}
	pc := NewWithPrealloc(len(rows))
	for i, row := range rows {
		if len(row) < 3 {
			return nil, newDecodeError("text", errors.Errorf("row %d has %d columns, need at least 3", i, len(row)))
		}
		pc.Positions = append(pc.Positions, r3.Vector{X: row[0], Y: row[1], Z: row[2]})
	}
	return pc, nil
}

// WriteText writes each row on its own line with every value formatted to 4 decimals and followed
// by a tab.
func WriteText(out io.Writer, rows [][]float64) error {
	w := bufio.NewWriter(out)
	for _, row := range rows {
		for _, v := range row {
			if _, err := w.WriteString(strconv.FormatFloat(v, 'f', 4, 64)); err != nil {
				return err
			}
			if err := w.WriteByte('\t'); err != nil {
				return err
			}
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.Flush()
}
