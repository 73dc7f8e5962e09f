// Package log writes canonical key/value log lines through the standard
// logger, so they are easy to grep out of mixed output.
package log

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
)

const CanonicalLine = "CANONICAL-WARCTOOLS-LINE"

type KeyValue map[string]interface{}

// String renders the pairs sorted by key.
func (x KeyValue) String() string {
	keys := make([]string, 0, len(x))
	for k := range x {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	s := make([]string, 0, len(x))
	for _, k := range keys {
		s = append(s, fmt.Sprintf("%s=%q", k, fmt.Sprint(x[k])))
	}

	return fmt.Sprintf("%s: %s", CanonicalLine, strings.Join(s, " "))
}

func Println(v ...interface{}) {
	log.Println(KeyValue{"msg": fmt.Sprint(v...)})
}

func Printf(format string, v ...interface{}) {
	Println(fmt.Sprintf(format, v...))
}

func Fatal(v ...interface{}) {
	Println(v...)
	os.Exit(1)
}

func Fatalf(format string, v ...interface{}) {
	Printf(format, v...)
	os.Exit(1)
}

// LogWithKVs logs msg along with the given pairs.
func LogWithKVs(msg string, data KeyValue) {
	kv := make(KeyValue, len(data)+1)
	for k, v := range data {
		kv[k] = v
	}

	kv["msg"] = msg
	log.Println(kv)
}
