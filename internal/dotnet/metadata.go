package dotnet

import (
	"fmt"
)

// Metadata table ids (ECMA-335 II.22).
const (
	tblModule                 = 0x00
	tblTypeRef                = 0x01
	tblTypeDef                = 0x02
	tblFieldPtr               = 0x03
	tblField                  = 0x04
	tblMethodPtr              = 0x05
	tblMethodDef              = 0x06
	tblParamPtr               = 0x07
	tblParam                  = 0x08
	tblInterfaceImpl          = 0x09
	tblMemberRef              = 0x0A
	tblConstant               = 0x0B
	tblCustomAttribute        = 0x0C
	tblFieldMarshal           = 0x0D
	tblDeclSecurity           = 0x0E
	tblClassLayout            = 0x0F
	tblFieldLayout            = 0x10
	tblStandAloneSig          = 0x11
	tblEventMap               = 0x12
	tblEventPtr               = 0x13
	tblEvent                  = 0x14
	tblPropertyMap            = 0x15
	tblPropertyPtr            = 0x16
	tblProperty               = 0x17
	tblMethodSemantics        = 0x18
	tblMethodImpl             = 0x19
	tblModuleRef              = 0x1A
	tblTypeSpec               = 0x1B
	tblImplMap                = 0x1C
	tblFieldRVA               = 0x1D
	tblEncLog                 = 0x1E
	tblEncMap                 = 0x1F
	tblAssembly               = 0x20
	tblAssemblyProcessor      = 0x21
	tblAssemblyOS             = 0x22
	tblAssemblyRef            = 0x23
	tblAssemblyRefProcessor   = 0x24
	tblAssemblyRefOS          = 0x25
	tblFile                   = 0x26
	tblExportedType           = 0x27
	tblManifestResource       = 0x28
	tblNestedClass            = 0x29
	tblGenericParam           = 0x2A
	tblMethodSpec             = 0x2B
	tblGenericParamConstraint = 0x2C
	tableCount                = 64
)

// Coded index groups (ECMA-335 II.24.2.6).
const (
	cdxTypeDefOrRef = iota
	cdxHasConstant
	cdxHasCustomAttribute
	cdxHasFieldMarshal
	cdxHasDeclSecurity
	cdxMemberRefParent
	cdxHasSemantics
	cdxMethodDefOrRef
	cdxMemberForwarded
	cdxImplementation
	cdxCustomAttributeType
	cdxResolutionScope
	cdxTypeOrMethodDef
)

// codedGroup describes one coded index: how many tag bits it spends and
// which tables its tag values select. A -1 slot is a tag value the
// standard leaves unused.
type codedGroup struct {
	bits   uint
	tables []int
}

var codedGroups = [...]codedGroup{
	cdxTypeDefOrRef:   {2, []int{tblTypeDef, tblTypeRef, tblTypeSpec}},
	cdxHasConstant:    {2, []int{tblField, tblParam, tblProperty}},
	cdxHasCustomAttribute: {5, []int{
		tblMethodDef, tblField, tblTypeRef, tblTypeDef, tblParam, tblInterfaceImpl,
		tblMemberRef, tblModule, tblDeclSecurity, tblProperty, tblEvent, tblStandAloneSig,
		tblModuleRef, tblTypeSpec, tblAssembly, tblAssemblyRef, tblFile, tblExportedType,
		tblManifestResource, tblGenericParam, tblGenericParamConstraint, tblMethodSpec,
	}},
	cdxHasFieldMarshal:     {1, []int{tblField, tblParam}},
	cdxHasDeclSecurity:     {2, []int{tblTypeDef, tblMethodDef, tblAssembly}},
	cdxMemberRefParent:     {3, []int{tblTypeDef, tblTypeRef, tblModuleRef, tblMethodDef, tblTypeSpec}},
	cdxHasSemantics:        {1, []int{tblEvent, tblProperty}},
	cdxMethodDefOrRef:      {1, []int{tblMethodDef, tblMemberRef}},
	cdxMemberForwarded:     {1, []int{tblField, tblMethodDef}},
	cdxImplementation:      {2, []int{tblFile, tblAssemblyRef, tblExportedType}},
	cdxCustomAttributeType: {3, []int{-1, -1, tblMethodDef, tblMemberRef, -1}},
	cdxResolutionScope:     {2, []int{tblModule, tblModuleRef, tblAssemblyRef, tblTypeRef}},
	cdxTypeOrMethodDef:     {1, []int{tblTypeDef, tblMethodDef}},
}

// Column kinds for row layout computation.
type colKind int

const (
	colUint16 colKind = iota
	colUint32
	colString // #Strings heap index
	colGUID   // #GUID heap index
	colBlob   // #Blob heap index
	colIndex  // simple index into another table (ref = table id)
	colCoded  // coded index (ref = coded group)
)

type col struct {
	kind colKind
	ref  int
}

func u2() col       { return col{kind: colUint16} }
func u4() col       { return col{kind: colUint32} }
func str() col      { return col{kind: colString} }
func guid() col     { return col{kind: colGUID} }
func blob() col     { return col{kind: colBlob} }
func idx(t int) col { return col{kind: colIndex, ref: t} }
func cdx(g int) col { return col{kind: colCoded, ref: g} }

// tableSchemas lists the column layout of every table this package can
// walk. Tables are skipped by computed row size, so every table that may
// appear before ManifestResource needs a schema even though only
// Assembly and ManifestResource rows are actually read.
var tableSchemas = [tableCount][]col{
	tblModule:                 {u2(), str(), guid(), guid(), guid()},
	tblTypeRef:                {cdx(cdxResolutionScope), str(), str()},
	tblTypeDef:                {u4(), str(), str(), cdx(cdxTypeDefOrRef), idx(tblField), idx(tblMethodDef)},
	tblFieldPtr:               {idx(tblField)},
	tblField:                  {u2(), str(), blob()},
	tblMethodPtr:              {idx(tblMethodDef)},
	tblMethodDef:              {u4(), u2(), u2(), str(), blob(), idx(tblParam)},
	tblParamPtr:               {idx(tblParam)},
	tblParam:                  {u2(), u2(), str()},
	tblInterfaceImpl:          {idx(tblTypeDef), cdx(cdxTypeDefOrRef)},
	tblMemberRef:              {cdx(cdxMemberRefParent), str(), blob()},
	tblConstant:               {u2(), cdx(cdxHasConstant), blob()},
	tblCustomAttribute:        {cdx(cdxHasCustomAttribute), cdx(cdxCustomAttributeType), blob()},
	tblFieldMarshal:           {cdx(cdxHasFieldMarshal), blob()},
	tblDeclSecurity:           {u2(), cdx(cdxHasDeclSecurity), blob()},
	tblClassLayout:            {u2(), u4(), idx(tblTypeDef)},
	tblFieldLayout:            {u4(), idx(tblField)},
	tblStandAloneSig:          {blob()},
	tblEventMap:               {idx(tblTypeDef), idx(tblEvent)},
	tblEventPtr:               {idx(tblEvent)},
	tblEvent:                  {u2(), str(), cdx(cdxTypeDefOrRef)},
	tblPropertyMap:            {idx(tblTypeDef), idx(tblProperty)},
	tblPropertyPtr:            {idx(tblProperty)},
	tblProperty:               {u2(), str(), blob()},
	tblMethodSemantics:        {u2(), idx(tblMethodDef), cdx(cdxHasSemantics)},
	tblMethodImpl:             {idx(tblTypeDef), cdx(cdxMethodDefOrRef), cdx(cdxMethodDefOrRef)},
	tblModuleRef:              {str()},
	tblTypeSpec:               {blob()},
	tblImplMap:                {u2(), cdx(cdxMemberForwarded), str(), idx(tblModuleRef)},
	tblFieldRVA:               {u4(), idx(tblField)},
	tblEncLog:                 {u4(), u4()},
	tblEncMap:                 {u4()},
	tblAssembly:               {u4(), u2(), u2(), u2(), u2(), u4(), blob(), str(), str()},
	tblAssemblyProcessor:      {u4()},
	tblAssemblyOS:             {u4(), u4(), u4()},
	tblAssemblyRef:            {u2(), u2(), u2(), u2(), u4(), blob(), str(), str(), blob()},
	tblAssemblyRefProcessor:   {u4(), idx(tblAssemblyRef)},
	tblAssemblyRefOS:          {u4(), u4(), u4(), idx(tblAssemblyRef)},
	tblFile:                   {u4(), str(), blob()},
	tblExportedType:           {u4(), u4(), str(), str(), cdx(cdxImplementation)},
	tblManifestResource:       {u4(), u4(), str(), cdx(cdxImplementation)},
	tblNestedClass:            {idx(tblTypeDef), idx(tblTypeDef)},
	tblGenericParam:           {u2(), u2(), cdx(cdxTypeOrMethodDef), str()},
	tblMethodSpec:             {cdx(cdxMethodDefOrRef), blob()},
	tblGenericParamConstraint: {idx(tblGenericParam), cdx(cdxTypeDefOrRef)},
}

// metadataInfo is what the rest of the package needs out of the tables.
type metadataInfo struct {
	identity  *Identity
	resources []resourceEntry
}

const metadataMagic = 0x424A5342 // "BSJB"

// parseMetadata walks the metadata root, finds the #~ table stream and
// #Strings heap, and reads the Assembly and ManifestResource tables.
func parseMetadata(meta []byte) (*metadataInfo, error) {
	r := &safeReader{data: meta}

	if r.u32() != metadataMagic {
		return nil, fmt.Errorf("%w: bad metadata signature", ErrImageFormat)
	}
	r.skip(4) // major, minor
	r.skip(4) // reserved
	verLen := int(r.u32())
	r.skip(verLen) // version string, stored 4-byte padded
	r.skip(2)      // flags
	streamCount := int(r.u16())

	var tables, strHeap []byte
	for i := 0; i < streamCount && !r.failed; i++ {
		off := int(r.u32())
		size := int(r.u32())
		name := r.paddedName()
		if off < 0 || size < 0 || off+size > len(meta) {
			return nil, fmt.Errorf("%w: stream %q outside metadata bounds", ErrImageFormat, name)
		}
		switch name {
		case "#~", "#-":
			tables = meta[off : off+size]
		case "#Strings":
			strHeap = meta[off : off+size]
		}
	}
	if r.failed {
		return nil, fmt.Errorf("%w: truncated metadata root", ErrImageFormat)
	}
	if tables == nil {
		return nil, fmt.Errorf("%w: missing metadata table stream", ErrImageFormat)
	}
	if strHeap == nil {
		return nil, fmt.Errorf("%w: missing strings heap", ErrImageFormat)
	}

	return parseTables(tables, strHeap)
}

func parseTables(tables, strHeap []byte) (*metadataInfo, error) {
	r := &safeReader{data: tables}
	r.skip(4) // reserved
	r.skip(2) // major, minor
	heapSizes := r.u8()
	r.skip(1) // reserved
	valid := r.u64()
	r.skip(8) // sorted

	var rows [tableCount]uint32
	for t := 0; t < tableCount; t++ {
		if valid&(1<<uint(t)) != 0 {
			rows[t] = r.u32()
		}
	}
	if r.failed {
		return nil, fmt.Errorf("%w: truncated table stream header", ErrImageFormat)
	}

	sizes := layoutSizes{
		rows:     rows,
		strWide:  heapSizes&0x01 != 0,
		guidWide: heapSizes&0x02 != 0,
		blobWide: heapSizes&0x04 != 0,
	}

	info := &metadataInfo{}
	for t := 0; t < tableCount; t++ {
		count := int(rows[t])
		if count == 0 {
			continue
		}
		schema := tableSchemas[t]
		if schema == nil {
			return nil, fmt.Errorf("%w: unsupported metadata table 0x%02x", ErrImageFormat, t)
		}

		switch t {
		case tblAssembly:
			vals := readRow(r, schema, sizes)
			name, ok := heapString(strHeap, vals[7])
			if r.failed || !ok {
				return nil, fmt.Errorf("%w: malformed Assembly row", ErrImageFormat)
			}
			info.identity = &Identity{
				Name:     name,
				Major:    uint16(vals[1]),
				Minor:    uint16(vals[2]),
				Build:    uint16(vals[3]),
				Revision: uint16(vals[4]),
			}
			r.skip(rowSize(schema, sizes) * (count - 1))
		case tblManifestResource:
			for i := 0; i < count; i++ {
				vals := readRow(r, schema, sizes)
				name, ok := heapString(strHeap, vals[2])
				if r.failed || !ok {
					return nil, fmt.Errorf("%w: malformed ManifestResource row", ErrImageFormat)
				}
				info.resources = append(info.resources, resourceEntry{
					name:           name,
					offset:         uint32(vals[0]),
					implementation: uint32(vals[3]),
				})
			}
		default:
			r.skip(rowSize(schema, sizes) * count)
		}
		if r.failed {
			return nil, fmt.Errorf("%w: truncated metadata table 0x%02x", ErrImageFormat, t)
		}
	}

	return info, nil
}

// layoutSizes resolves how wide each index column is for this image.
type layoutSizes struct {
	rows     [tableCount]uint32
	strWide  bool
	guidWide bool
	blobWide bool
}

func (s layoutSizes) colSize(c col) int {
	switch c.kind {
	case colUint16:
		return 2
	case colUint32:
		return 4
	case colString:
		return wide(s.strWide)
	case colGUID:
		return wide(s.guidWide)
	case colBlob:
		return wide(s.blobWide)
	case colIndex:
		if s.rows[c.ref] > 0xFFFF {
			return 4
		}
		return 2
	case colCoded:
		g := codedGroups[c.ref]
		var max uint32
		for _, t := range g.tables {
			if t >= 0 && s.rows[t] > max {
				max = s.rows[t]
			}
		}
		if max >= 1<<(16-g.bits) {
			return 4
		}
		return 2
	}
	return 0
}

func wide(w bool) int {
	if w {
		return 4
	}
	return 2
}

func rowSize(schema []col, sizes layoutSizes) int {
	total := 0
	for _, c := range schema {
		total += sizes.colSize(c)
	}
	return total
}

// readRow reads one row, returning each column value widened to uint64.
func readRow(r *safeReader, schema []col, sizes layoutSizes) []uint64 {
	vals := make([]uint64, len(schema))
	for i, c := range schema {
		switch sizes.colSize(c) {
		case 2:
			vals[i] = uint64(r.u16())
		case 4:
			vals[i] = uint64(r.u32())
		}
	}
	return vals
}

// heapString resolves a #Strings heap index to its null-terminated value.
func heapString(heap []byte, idx uint64) (string, bool) {
	if idx >= uint64(len(heap)) {
		return "", false
	}
	for end := idx; end < uint64(len(heap)); end++ {
		if heap[end] == 0 {
			return string(heap[idx:end]), true
		}
	}
	return "", false
}

// safeReader is a cursor over untrusted bytes. Out-of-bounds reads flip
// the failed flag and return zeros instead of panicking, so callers
// check once per structure instead of per field.
type safeReader struct {
	data   []byte
	pos    int
	failed bool
}

func (r *safeReader) take(n int) []byte {
	if r.failed || n < 0 || r.pos+n > len(r.data) {
		r.failed = true
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *safeReader) skip(n int) {
	r.take(n)
}

func (r *safeReader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *safeReader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return uint16(b[0]) | uint16(b[1])<<8
}

func (r *safeReader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return leUint32(b)
}

func (r *safeReader) u64() uint64 {
	lo := r.u32()
	hi := r.u32()
	return uint64(lo) | uint64(hi)<<32
}

// paddedName reads a null-terminated stream name padded to a 4-byte
// boundary.
func (r *safeReader) paddedName() string {
	start := r.pos
	for {
		b := r.take(1)
		if b == nil {
			return ""
		}
		if b[0] == 0 {
			break
		}
	}
	name := string(r.data[start : r.pos-1])
	// Consume padding up to the next 4-byte boundary from the name start.
	consumed := r.pos - start
	if rem := consumed % 4; rem != 0 {
		r.skip(4 - rem)
	}
	return name
}
