package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/chenzhekl/goply"
	"github.com/pkg/errors"
)

type plyFormat int

const (
	plyASCII plyFormat = iota
	plyBinaryLittleEndian
	plyBinaryBigEndian
)

type plyProperty struct {
	name string
	typ  string
	// listCountType is set for list properties.
	listCountType string
}

type plyElement struct {
	name       string
	count      int
	properties []plyProperty
}

var plyTypeSizes = map[string]int{
	"char": 1, "int8": 1, "uchar": 1, "uint8": 1,
	"short": 2, "int16": 2, "ushort": 2, "uint16": 2,
	"int": 4, "int32": 4, "uint": 4, "uint32": 4, "float": 4, "float32": 4,
	"double": 8, "float64": 8,
}

// goplyTypeNames maps the sized type aliases to the names goply understands.
var goplyTypeNames = map[string]string{
	"int8": "char", "uint8": "uchar", "int16": "short", "uint16": "ushort",
	"int32": "int", "uint32": "uint", "float32": "float", "float64": "double",
}

func goplyType(typ string) string {
	if name, ok := goplyTypeNames[typ]; ok {
		return name
	}
	return typ
}

// plyFieldNames maps vertex property names to record field names.
var plyFieldNames = map[string]string{
	"x": fieldX, "y": fieldY, "z": fieldZ,
	"nx": fieldNormalX, "ny": fieldNormalY, "nz": fieldNormalZ,
	fieldNormalX: fieldNormalX, fieldNormalY: fieldNormalY, fieldNormalZ: fieldNormalZ,
	fieldIntensity: fieldIntensity, "scalar_intensity": fieldIntensity,
	fieldRGB: fieldRGB, fieldRGBA: fieldRGBA,
	"red": "red", "green": "green", "blue": "blue",
}

func readPLYHeader(in *bufio.Reader) (plyFormat, []*plyElement, error) {
	magic, err := in.ReadString('\n')
	if err != nil || strings.TrimSpace(magic) != "ply" {
		return 0, nil, errors.New("missing ply magic")
	}
	var format plyFormat
	var haveFormat bool
	var elements []*plyElement
	for {
		line, err := in.ReadString('\n')
		if err != nil {
			return 0, nil, errors.Wrap(err, "reading ply header")
		}
		tokens := strings.Fields(line)
		if len(tokens) == 0 {
			continue
		}
		switch tokens[0] {
		case "format":
			if len(tokens) < 2 {
				return 0, nil, errors.Errorf("invalid format line %q", line)
			}
			switch tokens[1] {
			case "ascii":
				format = plyASCII
			case "binary_little_endian":
				format = plyBinaryLittleEndian
			case "binary_big_endian":
				format = plyBinaryBigEndian
			default:
				return 0, nil, errors.Errorf("unsupported ply format %q", tokens[1])
			}
			haveFormat = true
		case "comment", "obj_info":
		case "element":
			if len(tokens) != 3 {
				return 0, nil, errors.Errorf("invalid element line %q", line)
			}
			count, err := strconv.Atoi(tokens[2])
			if err != nil || count < 0 {
				return 0, nil, errors.Errorf("invalid element count %q", tokens[2])
			}
			elements = append(elements, &plyElement{name: tokens[1], count: count})
		case "property":
			if len(elements) == 0 {
				return 0, nil, errors.New("property declared before any element")
			}
			el := elements[len(elements)-1]
			var prop plyProperty
			if len(tokens) == 5 && tokens[1] == "list" {
				prop = plyProperty{name: tokens[4], typ: tokens[3], listCountType: tokens[2]}
				if _, ok := plyTypeSizes[prop.listCountType]; !ok {
					return 0, nil, errors.Errorf("unsupported ply type %q", prop.listCountType)
				}
			} else if len(tokens) == 3 {
				prop = plyProperty{name: tokens[2], typ: tokens[1]}
			} else {
				return 0, nil, errors.Errorf("invalid property line %q", line)
			}
			if _, ok := plyTypeSizes[prop.typ]; !ok {
				return 0, nil, errors.Errorf("unsupported ply type %q", prop.typ)
			}
			el.properties = append(el.properties, prop)
		case "end_header":
			if !haveFormat {
				return 0, nil, errors.New("ply header has no format line")
			}
			return format, elements, nil
		default:
			return 0, nil, errors.Errorf("unexpected ply header line %q", line)
		}
	}
}

func plyDecodeBinary(buf []byte, typ string, order binary.ByteOrder) float64 {
	switch typ {
	case "char", "int8":
		return float64(int8(buf[0]))
	case "uchar", "uint8":
		return float64(buf[0])
	case "short", "int16":
		return float64(int16(order.Uint16(buf)))
	case "ushort", "uint16":
		return float64(order.Uint16(buf))
	case "int", "int32":
		return float64(int32(order.Uint32(buf)))
	case "uint", "uint32":
		return float64(order.Uint32(buf))
	case "float", "float32":
		return float64(math.Float32frombits(order.Uint32(buf)))
	default:
		return math.Float64frombits(order.Uint64(buf))
	}
}

// plyReader yields the scalar values of a binary element row one by one.
type plyReader struct {
	in     *bufio.Reader
	format plyFormat
	buf    [8]byte
}

func (r *plyReader) next(typ string) (float64, error) {
	size := plyTypeSizes[typ]
	if _, err := io.ReadFull(r.in, r.buf[:size]); err != nil {
		return 0, err
	}
	var order binary.ByteOrder = binary.LittleEndian
	if r.format == plyBinaryBigEndian {
		order = binary.BigEndian
	}
	return plyDecodeBinary(r.buf[:size], typ, order), nil
}

// ReadPLY reads the vertex element of a PLY stream. Positions come from x y z, colors from
// red green blue (or a packed rgb), normals from nx ny nz and intensities from intensity or
// scalar_intensity. Elements other than vertex are skipped.
func ReadPLY(inRaw io.Reader) (*PointCloud, error) {
	in := bufio.NewReader(inRaw)
	format, elements, err := readPLYHeader(in)
	if err != nil {
		return nil, newDecodeError("ply", err)
	}
	if format == plyASCII {
		pc, err := readPLYASCII(in, elements)
		if err != nil {
			return nil, newDecodeError("ply", err)
		}
		return pc, nil
	}
	r := &plyReader{in: in, format: format}
	for _, el := range elements {
		if el.count > 0 && len(el.properties) == 0 {
			return nil, newDecodeError("ply", errors.Errorf("element %s has %d rows but no properties", el.name, el.count))
		}
	}
	for _, el := range elements {
		if el.name != "vertex" {
			if err := r.skipElement(el); err != nil {
				return nil, newDecodeError("ply", errors.Wrapf(err, "skipping element %s", el.name))
			}
			continue
		}
		record, err := r.readVertices(el)
		if err != nil {
			return nil, newDecodeError("ply", err)
		}
		pc, err := record.PointCloud()
		if err != nil {
			return nil, newDecodeError("ply", err)
		}
		return pc, nil
	}
	return nil, newDecodeError("ply", errors.New("no vertex element"))
}

func (r *plyReader) readRow(el *plyElement, each func(prop plyProperty, v float64)) error {
	for _, prop := range el.properties {
		if prop.listCountType != "" {
			n, err := r.next(prop.listCountType)
			if err != nil {
				return err
			}
			for k := 0; k < int(n); k++ {
				if _, err := r.next(prop.typ); err != nil {
					return err
				}
			}
			continue
		}
		v, err := r.next(prop.typ)
		if err != nil {
			return err
		}
		each(prop, v)
	}
	return nil
}

func (r *plyReader) skipElement(el *plyElement) error {
	for i := 0; i < el.count; i++ {
		if err := r.readRow(el, func(plyProperty, float64) {}); err != nil {
			return err
		}
	}
	return nil
}

func (r *plyReader) readVertices(el *plyElement) (*Record, error) {
	raw := newPLYVertexRecord(el)
	for i := 0; i < el.count; i++ {
		err := r.readRow(el, func(prop plyProperty, v float64) {
			raw.set(prop, i, v)
		})
		if err != nil {
			return nil, errors.Wrapf(err, "reading vertex %d", i)
		}
	}
	return raw.finish(), nil
}

// readPLYASCII hands the body of an ascii PLY to goply. The header is rebuilt from the parsed
// one and only the declared number of non blank rows is passed on, since goply panics on
// anything it does not expect.
func readPLYASCII(in *bufio.Reader, elements []*plyElement) (pc *PointCloud, err error) {
	var vertex *plyElement
	var header strings.Builder
	header.WriteString("ply\nformat ascii 1.0\n")
	rows := 0
	for _, el := range elements {
		if el.name == "vertex" && vertex == nil {
			vertex = el
		}
		if el.count > math.MaxInt-rows {
			return nil, errors.New("element counts overflow")
		}
		rows += el.count
		fmt.Fprintf(&header, "element %s %d\n", el.name, el.count)
		for _, prop := range el.properties {
			if prop.listCountType != "" {
				fmt.Fprintf(&header, "property list %s %s %s\n", goplyType(prop.listCountType), goplyType(prop.typ), prop.name)
			} else {
				fmt.Fprintf(&header, "property %s %s\n", goplyType(prop.typ), prop.name)
			}
		}
	}
	header.WriteString("end_header\n")
	if vertex == nil {
		return nil, errors.New("no vertex element")
	}

	var body strings.Builder
	for read := 0; read < rows; {
		line, err := in.ReadString('\n')
		if strings.TrimSpace(line) != "" {
			body.WriteString(strings.TrimSpace(line))
			body.WriteByte('\n')
			read++
			continue
		}
		if err != nil {
			return nil, errors.Errorf("expected %d rows, got %d", rows, read)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			pc, err = nil, errors.Errorf("invalid ply body: %v", r)
		}
	}()
	ply := goply.New(strings.NewReader(header.String() + body.String()))
	vertices := ply.Elements("vertex")
	raw := newPLYVertexRecord(vertex)
	for i := range vertices {
		for _, prop := range vertex.properties {
			if prop.listCountType != "" {
				continue
			}
			v, ok := plyNumber(vertices[i].Property(prop.name))
			if !ok {
				return nil, errors.Errorf("vertex %d has no value for %s", i, prop.name)
			}
			raw.set(prop, i, v)
		}
	}
	return raw.finish().PointCloud()
}

func plyNumber(v interface{}) (float64, bool) {
	switch v := v.(type) {
	case int8:
		return float64(v), true
	case uint8:
		return float64(v), true
	case int16:
		return float64(v), true
	case uint16:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint32:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

// plyVertexRecord collects vertex properties into record columns.
type plyVertexRecord struct {
	*Record
	floatColor bool
}

func newPLYVertexRecord(el *plyElement) *plyVertexRecord {
	var fields []string
	floatColor := false
	for _, prop := range el.properties {
		name, ok := plyFieldNames[prop.name]
		if !ok || prop.listCountType != "" {
			continue
		}
		if name == "red" && (prop.typ == "float" || prop.typ == "float32" || prop.typ == "double" || prop.typ == "float64") {
			floatColor = true
		}
		fields = append(fields, name)
	}
	return &plyVertexRecord{Record: newRecord(fields, el.count), floatColor: floatColor}
}

func (raw *plyVertexRecord) set(prop plyProperty, i int, v float64) {
	if name, ok := plyFieldNames[prop.name]; ok {
		raw.Record.set(name, i, v)
	}
}

// finish folds separate color channels into the packed rgb field.
func (raw *plyVertexRecord) finish() *Record {
	floatColor := raw.floatColor
	if raw.Has("red") && raw.Has("green") && raw.Has("blue") && !raw.Has(fieldRGB) {
		packed := make([]float64, len(raw.Columns["red"]))
		channel := func(v float64) uint8 {
			if floatColor {
				v *= 255
			}
			return uint8(math.Round(math.Max(0, math.Min(255, v))))
		}
		for i := range packed {
			packed[i] = float64(PackRGB(channel(raw.Columns["red"][i]), channel(raw.Columns["green"][i]), channel(raw.Columns["blue"][i])))
		}
		raw.Fields = append(raw.Fields, fieldRGB)
		raw.Columns[fieldRGB] = packed
	}
	for _, c := range []string{"red", "green", "blue"} {
		delete(raw.Columns, c)
	}
	raw.Fields = fieldsWithColumns(raw.Record)
	return raw.Record
}

func fieldsWithColumns(r *Record) []string {
	out := make([]string, 0, len(r.Fields))
	seen := make(map[string]bool, len(r.Fields))
	for _, f := range r.Fields {
		if _, ok := r.Columns[f]; ok && !seen[f] {
			out = append(out, f)
			seen[f] = true
		}
	}
	return out
}
