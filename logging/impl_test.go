package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"go.viam.com/test"
)

type BasicStruct struct {
	X int
	y string
	z string
}

type User struct {
	Name string
}

type StructWithStruct struct {
	x int
	Y User
	z string
}

type StructWithAnonymousStruct struct {
	x int
	Y struct {
		Y1 string
	}
	Z string
}

// assertLogMatches will fuzzy match log lines. Notably, this checks the time format, but ignores
// the exact time. And it expects a match on the filename, but the exact line number can be wrong.
func assertLogMatches(t *testing.T, actual *bytes.Buffer, expected string) {
	t.Helper()

	output, err := actual.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)

	actualParts := strings.Split(strings.TrimSuffix(output, "\n"), "\t")
	expectedParts := strings.Split(expected, "\t")
	test.That(t, len(actualParts), test.ShouldEqual, len(expectedParts))
	// Use the length of the first string as a weak verification of checking that the result looks like a date.
	test.That(t, len(actualParts[0]), test.ShouldEqual, len(expectedParts[0]))
	// Log level and logger name.
	test.That(t, actualParts[1], test.ShouldEqual, expectedParts[1])
	test.That(t, actualParts[2], test.ShouldEqual, expectedParts[2])

	// Filename:line_number.
	actualFilename, actualLineNumber, found := strings.Cut(actualParts[3], ":")
	test.That(t, found, test.ShouldBeTrue)
	expectedFilename, _, found := strings.Cut(expectedParts[3], ":")
	test.That(t, found, test.ShouldBeTrue)
	test.That(t, actualFilename, test.ShouldEqual, expectedFilename)
	_, err = strconv.Atoi(actualLineNumber)
	test.That(t, err, test.ShouldBeNil)

	// Log message.
	test.That(t, actualParts[4], test.ShouldEqual, expectedParts[4])
	if len(actualParts) == 5 {
		return
	}

	// JSON encoding of maps can be unpredictable because map iteration order can change between
	// runs. Parse the output into maps and assert on map equality.
	expectedMap := make(map[string]any)
	test.That(t, json.Unmarshal([]byte(expectedParts[5]), &expectedMap), test.ShouldBeNil)
	actualMap := make(map[string]any)
	test.That(t, json.Unmarshal([]byte(actualParts[5]), &actualMap), test.ShouldBeNil)
	test.That(t, actualMap, test.ShouldResemble, expectedMap)
}

func newBufferLogger(name string, level Level) (*impl, *bytes.Buffer) {
	notStdout := &bytes.Buffer{}
	return newImpl(name, level, true, NewWriterAppender(notStdout)), notStdout
}

func TestConsoleOutputFormat(t *testing.T) {
	logger, notStdout := newBufferLogger("impl", DEBUG)

	logger.Infow("impl Info log")
	// Note the use of tabs between the date, level, name, file location and log line.
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	INFO	impl	logging/impl_test.go:67	impl Info log`)

	logger.Infow("impl logw", "key", "value")
	assertLogMatches(t, notStdout,
		`2023-10-30T13:19:45.806Z	INFO	impl	logging/impl_test.go:132	impl logw	{"key":"value"}`)

	logger.Infow("StructWithStruct", "key", "val", "StructWithStruct", StructWithStruct{1, User{"alice"}, "foo"})
	assertLogMatches(t, notStdout,
		`2023-10-30T13:20:47.129Z	INFO	impl	logging/impl_test.go:123	StructWithStruct	{"StructWithStruct":{"Y":{"Name":"alice"}},"key":"val"}`)

	logger.Infow("BasicStruct", "implOneKey", "1val", "BasicStruct", BasicStruct{1, "alice", "foo"})
	assertLogMatches(t, notStdout,
		`2023-10-30T13:20:47.129Z	INFO	impl	logging/impl_test.go:125	BasicStruct	{"BasicStruct":{"X":1},"implOneKey":"1val"}`)

	logger.Infow("impl logw", "key", "val", "StructWithAnonymousStruct", StructWithAnonymousStruct{1, struct{ Y1 string }{"y1"}, "foo"})
	//nolint:lll
	assertLogMatches(t, notStdout,
		`2023-10-30T13:20:47.129Z	INFO	impl	logging/impl_test.go:121	impl logw	{"StructWithAnonymousStruct":{"Y":{"Y1":"y1"},"Z":"foo"},"key":"val"}`)

	logger.Infow("impl logw", "key", "val", "fmt.Sprintf", fmt.Sprintf("%+v", BasicStruct{1, "y", "z"}))
	assertLogMatches(t, notStdout,
		`2023-10-30T13:20:47.129Z	INFO	impl	logging/impl_test.go:127	impl logw	{"fmt.Sprintf":"{X:1 y:y z:z}","key":"val"}`)

	// An odd number of key/values still logs, flagging the dangling key.
	logger.Warnw("dangling", "key")
	assertLogMatches(t, notStdout,
		`2023-10-30T13:20:47.129Z	WARN	impl	logging/impl_test.go:127	dangling	{"key":"unpaired log key"}`)
}

func TestLevels(t *testing.T) {
	logger, notStdout := newBufferLogger("levels", WARN)

	logger.Debugw("hidden")
	logger.Infow("hidden")
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)

	logger.Warnw("shown")
	assertLogMatches(t, notStdout, `2023-10-30T09:12:09.459Z	WARN	levels	logging/impl_test.go:1	shown`)

	sub := logger.Sublogger("sub")
	logger.SetLevel(DEBUG)
	logger.Debugw("now shown")
	assertLogMatches(t, notStdout, `2023-10-30T09:12:09.459Z	DEBUG	levels	logging/impl_test.go:1	now shown`)
	sub.Infow("still hidden")
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)
	sub.Errorw("shown", "n", 1)
	assertLogMatches(t, notStdout, `2023-10-30T09:12:09.459Z	ERROR	levels.sub	logging/impl_test.go:1	shown	{"n":1}`)

	for _, tc := range []struct {
		in       string
		expected Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"", INFO},
		{"Warn", WARN},
		{"error", ERROR},
	} {
		level, err := LevelFromString(tc.in)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, level, test.ShouldEqual, tc.expected)
	}
	_, err := LevelFromString("loud")
	test.That(t, err, test.ShouldNotBeNil)

	var level Level
	test.That(t, json.Unmarshal([]byte(`"error"`), &level), test.ShouldBeNil)
	test.That(t, level, test.ShouldEqual, ERROR)
}

func TestSublogger(t *testing.T) {
	logger, notStdout := newBufferLogger("store", INFO)
	sub := logger.Sublogger("remote")
	sub.Infow("listing", "path", "/data")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	INFO	store.remote	logging/impl_test.go:1	listing	{"path":"/data"}`)

	unnamed := NewBlankLogger("").Sublogger("child")
	test.That(t, unnamed.(*impl).name, test.ShouldEqual, "child")
}

func TestObservedTestLogger(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	logger.Errorw("copy failed", "source", "a", "target", "b")
	logger.AsZap().Infow("through zap", "k", 1)

	entries := observed.All()
	test.That(t, entries, test.ShouldHaveLength, 2)
	test.That(t, entries[0].Message, test.ShouldEqual, "copy failed")
	test.That(t, entries[0].ContextMap()["target"], test.ShouldEqual, "b")
	test.That(t, entries[1].Message, test.ShouldEqual, "through zap")
	test.That(t, observed.FilterMessageSnippet("copy").Len(), test.ShouldEqual, 1)
}

func TestFileAppender(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "scenestore.log")
	appender, closer := NewFileAppender(fn)
	logger := NewBlankLogger("file")
	logger.AddAppender(appender)
	logger.Infow("written to disk", "points", 4)
	test.That(t, closer.Close(), test.ShouldBeNil)

	contents, err := os.ReadFile(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(contents), test.ShouldContainSubstring, "written to disk")
	test.That(t, string(contents), test.ShouldContainSubstring, `{"points":4}`)
}
