//go:build easytier

package engine

/*
#cgo LDFLAGS: -leasytier
#include <stdlib.h>
#include <stddef.h>
#include <stdint.h>

struct KeyValuePair {
    const char* key;
    const char* value;
};

extern int32_t set_tun_fd(const char* inst_name, int fd);
extern int parse_config(const char* cfg_str);
extern int run_network_instance(const char* cfg_str);
extern int retain_network_instance(const char** names, size_t count);
extern int collect_network_infos(struct KeyValuePair* infos, size_t max_length);
extern void get_error_msg(const char** out);
extern void free_string(const char* s);
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// infoCap bounds one telemetry snapshot. The core reports a handful of
// entries per instance, so this leaves generous headroom.
const infoCap = 512

type native struct{}

// New returns the Engine backed by the linked core.
func New() Engine { return native{} }

func (native) Run(cfg *Config) error {
	text, err := cfg.Render()
	if err != nil {
		return err
	}
	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))

	if rc := C.parse_config(ctext); rc != 0 {
		return fmt.Errorf("engine: config rejected (%d): %s", int(rc), lastError())
	}
	if rc := C.run_network_instance(ctext); rc != 0 {
		return fmt.Errorf("engine: run %s (%d): %s", cfg.InstanceName, int(rc), lastError())
	}
	return nil
}

func (native) SetTunFD(instance string, fd int) error {
	cname := C.CString(instance)
	defer C.free(unsafe.Pointer(cname))

	if rc := C.set_tun_fd(cname, C.int(fd)); rc != 0 {
		return fmt.Errorf("engine: set tun fd on %s (%d): %s", instance, int(rc), lastError())
	}
	return nil
}

func (native) Infos() ([]KV, error) {
	buf := make([]C.struct_KeyValuePair, infoCap)
	n := int(C.collect_network_infos(&buf[0], C.size_t(len(buf))))
	if n < 0 {
		return nil, fmt.Errorf("engine: collect infos (%d): %s", n, lastError())
	}

	out := make([]KV, 0, n)
	for i := 0; i < n; i++ {
		var kv KV
		if buf[i].key != nil {
			kv.Key = C.GoString(buf[i].key)
			C.free_string(buf[i].key)
		}
		if buf[i].value != nil {
			kv.Value = C.GoString(buf[i].value)
			C.free_string(buf[i].value)
		}
		out = append(out, kv)
	}
	return out, nil
}

func (native) Retain(names []string) error {
	cnames := make([]*C.char, len(names))
	for i, name := range names {
		cnames[i] = C.CString(name)
	}
	defer func() {
		for _, p := range cnames {
			C.free(unsafe.Pointer(p))
		}
	}()

	var head **C.char
	if len(cnames) > 0 {
		head = &cnames[0]
	}
	if rc := C.retain_network_instance(head, C.size_t(len(cnames))); rc != 0 {
		return fmt.Errorf("engine: retain instances (%d): %s", int(rc), lastError())
	}
	return nil
}

func lastError() string {
	var msg *C.char
	C.get_error_msg(&msg)
	if msg == nil {
		return "unknown error"
	}
	defer C.free_string(msg)
	return C.GoString(msg)
}
