package iscab

import "strconv"

// stripVolumeSuffix removes a trailing ".cab" or ".hdr" extension along
// with the single-digit volume number preceding it, so that both
// "data1.cab" and "data" resolve to the same base name. Names with a
// multi-digit volume suffix keep their extra digits; installers in the
// wild do not produce them.
func stripVolumeSuffix(base string) string {
	if len(base) < 5 {
		return base
	}
	switch base[len(base)-4:] {
	case ".cab", ".hdr":
		return base[:len(base)-5]
	}
	return base
}

// volumeName generates the on-disk name of volume v, e.g. "data2.cab".
func (c *Cabinet) volumeName(v int) string {
	return c.baseName + strconv.Itoa(v) + ".cab"
}

// headerName generates the name of the optional directory file.
func (c *Cabinet) headerName() string {
	return c.baseName + "1.hdr"
}

// loadVolumes opens <base>1.cab, <base>2.cab, ... until the first
// absent volume and records each volume's header. A volume that opens
// but fails to parse aborts the whole open.
func (c *Cabinet) loadVolumes() error {
	for v := 1; ; v++ {
		name := c.volumeName(v)
		f, err := c.fsys.Open(name)
		if err != nil {
			return nil
		}
		hdr, err := readVolumeHeader(f)
		_ = f.Close()
		if err != nil {
			c.warn("%s: %v", name, err)
			return wrapPath(name, err)
		}
		c.volumes = append(c.volumes, hdr)
	}
}
