package pointcloud

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	lzf "github.com/zhuyie/golzf"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
	// PCDCompressed binary format for pcd, LZF compressed and stored column by column.
	PCDCompressed PCDType = 2
)

func (t PCDType) String() string {
	switch t {
	case PCDAscii:
		return "ascii"
	case PCDBinary:
		return "binary"
	case PCDCompressed:
		return "binary_compressed"
	default:
		return fmt.Sprintf("PCDType(%d)", int(t))
	}
}

// ParsePCDType parses the value of a DATA header line.
func ParsePCDType(s string) (PCDType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ascii":
		return PCDAscii, nil
	case "binary":
		return PCDBinary, nil
	case "binary_compressed", "compressed":
		return PCDCompressed, nil
	default:
		return 0, errors.Errorf("unsupported pcd data type %q", s)
	}
}

type pcdValType string

const (
	pcdValFloat pcdValType = "F"
	pcdValInt   pcdValType = "I"
	pcdValUInt  pcdValType = "U"
)

// PCDHeader is the parsed header of a pcd stream.
type PCDHeader struct {
	Version   string
	Fields    []string
	Size      []int
	Type      []pcdValType
	Count     []int
	Width     int
	Height    int
	Viewpoint [7]float64
	Points    int
	Data      PCDType
}

const pcdCommentChar = "#"

// maxPCDRecordSize bounds the bytes a single point may declare through SIZE and COUNT.
const maxPCDRecordSize = 1 << 16

func (h *PCDHeader) recordSize() int {
	size := 0
	for i := range h.Fields {
		size += h.Size[i] * h.Count[i]
	}
	return size
}

func parseUints(tokens []string, name string) ([]int, error) {
	out := make([]int, len(tokens))
	for i, token := range tokens {
		v, err := strconv.ParseUint(token, 10, 32)
		if err != nil {
			return nil, errors.Errorf("invalid %s field %s: %s", name, token, err)
		}
		out[i] = int(v)
	}
	return out, nil
}

func parsePCDHeaderLine(line string, header *PCDHeader) (done bool, err error) {
	field, value, _ := strings.Cut(line, " ")
	value = strings.TrimSpace(value)
	tokens := strings.Fields(value)

	switch strings.ToUpper(field) {
	case "VERSION":
		if value != ".7" && value != "0.7" && value != ".6" && value != "0.6" {
			return false, errors.Errorf("unsupported pcd version %s", value)
		}
		header.Version = value
	case "FIELDS":
		header.Fields = tokens
	case "SIZE":
		header.Size, err = parseUints(tokens, "SIZE")
	case "TYPE":
		header.Type = make([]pcdValType, len(tokens))
		for i, token := range tokens {
			switch t := pcdValType(strings.ToUpper(token)); t {
			case pcdValFloat, pcdValInt, pcdValUInt:
				header.Type[i] = t
			default:
				return false, errors.Errorf("invalid TYPE field %s", token)
			}
		}
	case "COUNT":
		header.Count, err = parseUints(tokens, "COUNT")
	case "WIDTH":
		header.Width, err = strconv.Atoi(value)
		if err != nil {
			return false, errors.Errorf("invalid WIDTH field %s: %s", value, err)
		}
	case "HEIGHT":
		header.Height, err = strconv.Atoi(value)
		if err != nil {
			return false, errors.Errorf("invalid HEIGHT field %s: %s", value, err)
		}
	case "VIEWPOINT":
		if len(tokens) != 7 {
			return false, errors.Errorf("unexpected number of fields in VIEWPOINT line. Expected 7, got %d", len(tokens))
		}
		for i, token := range tokens {
			header.Viewpoint[i], err = strconv.ParseFloat(token, 64)
			if err != nil {
				return false, errors.Errorf("invalid VIEWPOINT field %s: %s", token, err)
			}
		}
	case "POINTS":
		header.Points, err = strconv.Atoi(value)
		if err != nil {
			return false, errors.Errorf("invalid POINTS field %s: %s", value, err)
		}
	case "DATA":
		header.Data, err = ParsePCDType(value)
		return true, err
	default:
		return false, errors.Errorf("unexpected pcd header line %q", line)
	}
	return false, err
}

func (h *PCDHeader) validate() error {
	if len(h.Fields) == 0 {
		return errors.New("pcd header has no FIELDS")
	}
	if h.Count == nil {
		h.Count = make([]int, len(h.Fields))
		for i := range h.Count {
			h.Count[i] = 1
		}
	}
	if len(h.Size) != len(h.Fields) || len(h.Type) != len(h.Fields) || len(h.Count) != len(h.Fields) {
		return errors.Errorf("pcd header declares %d fields but %d sizes, %d types and %d counts",
			len(h.Fields), len(h.Size), len(h.Type), len(h.Count))
	}
	for i := range h.Fields {
		switch h.Type[i] {
		case pcdValFloat:
			if h.Size[i] != 4 && h.Size[i] != 8 {
				return errors.Errorf("unsupported float size %d for field %s", h.Size[i], h.Fields[i])
			}
		case pcdValInt, pcdValUInt:
			if h.Size[i] != 1 && h.Size[i] != 2 && h.Size[i] != 4 && h.Size[i] != 8 {
				return errors.Errorf("unsupported integer size %d for field %s", h.Size[i], h.Fields[i])
			}
		}
		if h.Count[i] < 1 {
			return errors.Errorf("invalid COUNT %d for field %s", h.Count[i], h.Fields[i])
		}
	}
	if size := h.recordSize(); size > maxPCDRecordSize {
		return errors.Errorf("point record of %d bytes exceeds %d", size, maxPCDRecordSize)
	}
	if h.Width < 0 || h.Height < 0 || h.Points < 0 {
		return errors.Errorf("negative dimensions WIDTH %d HEIGHT %d POINTS %d", h.Width, h.Height, h.Points)
	}
	if h.Height == 0 {
		h.Height = 1
	}
	if h.Width > math.MaxInt/h.Height {
		return errors.Errorf("WIDTH %d times HEIGHT %d overflows", h.Width, h.Height)
	}
	if h.Width == 0 {
		h.Width = h.Points
	}
	if h.Points == 0 {
		h.Points = h.Width * h.Height
	}
	if h.Points != h.Width*h.Height {
		return errors.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", h.Points, h.Width*h.Height)
	}
	return nil
}

func isPackedColor(field string) bool {
	return field == fieldRGB || field == fieldRGBA
}

// decodeValue reads a single little endian value. Packed colors keep their raw bits regardless of
// the declared type since float typed rgb fields reinterpret the integer.
func decodeValue(buf []byte, typ pcdValType, size int, packed bool) float64 {
	if packed && size == 4 {
		return float64(binary.LittleEndian.Uint32(buf) & 0xFFFFFF)
	}
	switch typ {
	case pcdValFloat:
		if size == 8 {
			return math.Float64frombits(binary.LittleEndian.Uint64(buf))
		}
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf)))
	case pcdValInt:
		switch size {
		case 1:
			return float64(int8(buf[0]))
		case 2:
			return float64(int16(binary.LittleEndian.Uint16(buf)))
		case 4:
			return float64(int32(binary.LittleEndian.Uint32(buf)))
		default:
			return float64(int64(binary.LittleEndian.Uint64(buf)))
		}
	default:
		switch size {
		case 1:
			return float64(buf[0])
		case 2:
			return float64(binary.LittleEndian.Uint16(buf))
		case 4:
			return float64(binary.LittleEndian.Uint32(buf))
		default:
			return float64(binary.LittleEndian.Uint64(buf))
		}
	}
}

func parseASCIIValue(token string, typ pcdValType, size int, packed bool) (float64, error) {
	if packed && typ == pcdValFloat {
		f, err := strconv.ParseFloat(token, 32)
		if err != nil {
			return 0, err
		}
		return float64(math.Float32bits(float32(f)) & 0xFFFFFF), nil
	}
	v, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, err
	}
	if packed {
		return float64(uint32(v) & 0xFFFFFF), nil
	}
	if typ == pcdValFloat && size == 4 {
		return float64(float32(v)), nil
	}
	return v, nil
}

// ReadPCDHeader consumes the header of a pcd stream.
func ReadPCDHeader(in *bufio.Reader) (*PCDHeader, error) {
	header := &PCDHeader{}
	for lineCount := 0; ; lineCount++ {
		line, err := in.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			return nil, errors.Errorf("error reading header line %d: %s", lineCount, err)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		done, err := parsePCDHeaderLine(line, header)
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
	}
	if err := header.validate(); err != nil {
		return nil, err
	}
	return header, nil
}

// DecodePCD decodes a pcd stream into its record of named columns. Only the first element of a
// field with COUNT > 1 is kept. Failures are returned as a *DecodeError.
func DecodePCD(inRaw io.Reader) (*Record, error) {
	in := bufio.NewReader(inRaw)
	header, err := ReadPCDHeader(in)
	if err != nil {
		return nil, newDecodeError("pcd", err)
	}
	var record *Record
	switch header.Data {
	case PCDAscii:
		record, err = readPCDAscii(in, header)
	case PCDBinary:
		record, err = readPCDBinary(in, header)
	case PCDCompressed:
		record, err = readPCDCompressed(in, header)
	default:
		err = errors.Errorf("unsupported pcd data type %v", header.Data)
	}
	if err != nil {
		return nil, newDecodeError("pcd", err)
	}
	return record, nil
}

// ReadPCD decodes a pcd stream into a PointCloud.
func ReadPCD(in io.Reader) (*PointCloud, error) {
	record, err := DecodePCD(in)
	if err != nil {
		return nil, err
	}
	pc, err := record.PointCloud()
	if err != nil {
		return nil, newDecodeError("pcd", err)
	}
	return pc, nil
}

func readPCDAscii(in *bufio.Reader, header *PCDHeader) (*Record, error) {
	record := newRecord(header.Fields, header.Points)
	for i := 0; i < header.Points; i++ {
		line, err := in.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || strings.TrimSpace(line) == "") {
			return nil, errors.Wrapf(err, "reading point %d", i)
		}
		tokens := strings.Fields(line)
		offset := 0
		for j, field := range header.Fields {
			if offset+header.Count[j] > len(tokens) {
				return nil, errors.Errorf("unexpected number of fields in point %d", i)
			}
			v, err := parseASCIIValue(tokens[offset], header.Type[j], header.Size[j], isPackedColor(field))
			if err != nil {
				return nil, errors.Errorf("invalid point %d field %s: %s", i, tokens[offset], err)
			}
			record.set(field, i, v)
			offset += header.Count[j]
		}
	}
	return record, nil
}

func readPCDBinary(in io.Reader, header *PCDHeader) (*Record, error) {
	recordSize := header.recordSize()
	buf := make([]byte, recordSize)
	record := newRecord(header.Fields, header.Points)
	for i := 0; i < header.Points; i++ {
		if _, err := io.ReadFull(in, buf); err != nil {
			return nil, errors.Wrapf(err, "reading point %d of %d", i, header.Points)
		}
		offset := 0
		for j, field := range header.Fields {
			size := header.Size[j]
			record.set(field, i, decodeValue(buf[offset:offset+size], header.Type[j], size, isPackedColor(field)))
			offset += size * header.Count[j]
		}
	}
	return record, nil
}

// lzfMaxRatio bounds how much LZF can expand its input: a 3 byte back reference copies at most
// 264 bytes.
const lzfMaxRatio = 88

func readPCDCompressed(in io.Reader, header *PCDHeader) (*Record, error) {
	var sizes [2]uint32
	if err := binary.Read(in, binary.LittleEndian, &sizes); err != nil {
		return nil, errors.Wrap(err, "reading compressed sizes")
	}
	compressedSize, uncompressedSize := int64(sizes[0]), int64(sizes[1])
	if expected := int64(header.recordSize()) * int64(header.Points); uncompressedSize != expected {
		return nil, errors.Errorf("uncompressed size %d does not match expected %d", uncompressedSize, expected)
	}
	if uncompressedSize == 0 {
		return newRecord(header.Fields, 0), nil
	}

	compressed, err := io.ReadAll(io.LimitReader(in, compressedSize))
	if err != nil {
		return nil, errors.Wrap(err, "reading compressed bytes")
	}
	if int64(len(compressed)) != compressedSize {
		return nil, errors.Errorf("expected %d compressed bytes, got %d", compressedSize, len(compressed))
	}
	if uncompressedSize > lzfMaxRatio*compressedSize {
		return nil, errors.Errorf("%d compressed bytes cannot hold %d bytes of point data", compressedSize, uncompressedSize)
	}
	data := make([]byte, uncompressedSize)
	n, err := lzf.Decompress(compressed, data)
	if err != nil {
		return nil, errors.Wrap(err, "decompressing point data")
	}
	if int64(n) != uncompressedSize {
		return nil, errors.Errorf("decompressed %d bytes, expected %d", n, uncompressedSize)
	}

	// Column major: every point's value for a field is stored contiguously.
	record := newRecord(header.Fields, header.Points)
	offset := 0
	for j, field := range header.Fields {
		size := header.Size[j]
		stride := size * header.Count[j]
		for i := 0; i < header.Points; i++ {
			start := offset + i*stride
			record.set(field, i, decodeValue(data[start:start+size], header.Type[j], size, isPackedColor(field)))
		}
		offset += stride * header.Points
	}
	return record, nil
}

type pcdField struct {
	name  string
	size  int
	typ   pcdValType
	value func(i int) []byte
}

// pcdSchema picks one of the four fixed layouts based on which attributes the cloud carries:
// x y z, x y z rgb, x y z intensity or x y z rgb intensity.
func pcdSchema(cloud *PointCloud) []pcdField {
	f32 := func(get func(i int) float64) func(i int) []byte {
		return func(i int) []byte {
			return binary.LittleEndian.AppendUint32(nil, math.Float32bits(float32(get(i))))
		}
	}
	fields := []pcdField{
		{fieldX, 4, pcdValFloat, f32(func(i int) float64 { return cloud.Positions[i].X })},
		{fieldY, 4, pcdValFloat, f32(func(i int) float64 { return cloud.Positions[i].Y })},
		{fieldZ, 4, pcdValFloat, f32(func(i int) float64 { return cloud.Positions[i].Z })},
	}
	if cloud.HasColor() {
		fields = append(fields, pcdField{fieldRGB, 4, pcdValFloat, func(i int) []byte {
			return binary.LittleEndian.AppendUint32(nil, PackRGB(cloud.Colors[i].RGB255()))
		}})
	}
	if cloud.HasIntensity() {
		fields = append(fields, intensityField(cloud.Intensities))
	}
	return fields
}

// intensityField picks the narrowest type that holds every intensity exactly: U 1 for whole
// values in [0, 255], F 4 when float32 is lossless and F 8 otherwise.
func intensityField(intensities []float64) pcdField {
	byteSized, float32Exact := true, true
	for _, v := range intensities {
		if v != math.Trunc(v) || v < 0 || v > 255 {
			byteSized = false
		}
		if float64(float32(v)) != v {
			float32Exact = false
		}
	}
	switch {
	case byteSized:
		return pcdField{fieldIntensity, 1, pcdValUInt, func(i int) []byte {
			return []byte{uint8(intensities[i])}
		}}
	case float32Exact:
		return pcdField{fieldIntensity, 4, pcdValFloat, func(i int) []byte {
			return binary.LittleEndian.AppendUint32(nil, math.Float32bits(float32(intensities[i])))
		}}
	default:
		return pcdField{fieldIntensity, 8, pcdValFloat, func(i int) []byte {
			return binary.LittleEndian.AppendUint64(nil, math.Float64bits(intensities[i]))
		}}
	}
}

func formatASCIIValue(field pcdField, raw []byte) string {
	switch field.typ {
	case pcdValFloat:
		if field.size == 8 {
			return strconv.FormatFloat(math.Float64frombits(binary.LittleEndian.Uint64(raw)), 'g', -1, 64)
		}
		return strconv.FormatFloat(float64(math.Float32frombits(binary.LittleEndian.Uint32(raw))), 'g', -1, 32)
	default:
		return strconv.Itoa(int(raw[0]))
	}
}

// WritePCD writes the cloud as a pcd stream using the minimal schema for its attributes. Normals
// are not written.
func WritePCD(cloud *PointCloud, out io.Writer, outputType PCDType) error {
	if err := cloud.Validate(); err != nil {
		return err
	}
	fields := pcdSchema(cloud)
	names := make([]string, len(fields))
	sizes := make([]string, len(fields))
	types := make([]string, len(fields))
	counts := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.name
		sizes[i] = strconv.Itoa(f.size)
		types[i] = string(f.typ)
		counts[i] = "1"
	}

	var header bytes.Buffer
	fmt.Fprintf(&header, "# .PCD v0.7 - Point Cloud Data file format\n")
	fmt.Fprintf(&header, "VERSION .7\n")
	fmt.Fprintf(&header, "FIELDS %s\nSIZE %s\nTYPE %s\nCOUNT %s\n",
		strings.Join(names, " "), strings.Join(sizes, " "), strings.Join(types, " "), strings.Join(counts, " "))
	fmt.Fprintf(&header, "WIDTH %d\nHEIGHT %d\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS %d\n", cloud.Size(), 1, cloud.Size())
	fmt.Fprintf(&header, "DATA %s\n", outputType)
	if _, err := out.Write(header.Bytes()); err != nil {
		return err
	}

	switch outputType {
	case PCDAscii:
		return writePCDAscii(cloud, fields, out)
	case PCDBinary:
		return writePCDBinary(cloud, fields, out)
	case PCDCompressed:
		return writePCDCompressed(cloud, fields, out)
	default:
		return errors.Errorf("unsupported pcd data type %v", outputType)
	}
}

func writePCDAscii(cloud *PointCloud, fields []pcdField, out io.Writer) error {
	w := bufio.NewWriter(out)
	tokens := make([]string, len(fields))
	for i := 0; i < cloud.Size(); i++ {
		for j, f := range fields {
			tokens[j] = formatASCIIValue(f, f.value(i))
		}
		if _, err := w.WriteString(strings.Join(tokens, " ") + "\n"); err != nil {
			return err
		}
	}
	return w.Flush()
}

func writePCDBinary(cloud *PointCloud, fields []pcdField, out io.Writer) error {
	w := bufio.NewWriter(out)
	for i := 0; i < cloud.Size(); i++ {
		for _, f := range fields {
			if _, err := w.Write(f.value(i)); err != nil {
				return err
			}
		}
	}
	return w.Flush()
}

func writePCDCompressed(cloud *PointCloud, fields []pcdField, out io.Writer) error {
	var data []byte
	for _, f := range fields {
		for i := 0; i < cloud.Size(); i++ {
			data = append(data, f.value(i)...)
		}
	}

	var compressed []byte
	if len(data) > 0 {
		// LZF can expand incompressible input slightly.
		buf := make([]byte, len(data)+len(data)/16+64)
		n, err := lzf.Compress(data, buf)
		if err != nil {
			return errors.Wrap(err, "compressing point data")
		}
		compressed = buf[:n]
	}
	if err := binary.Write(out, binary.LittleEndian, [2]uint32{uint32(len(compressed)), uint32(len(data))}); err != nil {
		return err
	}
	_, err := out.Write(compressed)
	return err
}
