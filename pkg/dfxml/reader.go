package dfxml

import (
	"encoding/xml"
	"io"
)

// ReadReport parses a partition report, returning its source and all
// <partition> elements.
func ReadReport(r io.Reader) (*Source, []PartitionObject, error) {
	dec := xml.NewDecoder(r)

	var (
		src   *Source
		parts []PartitionObject
	)

	for {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, nil, err
		}

		startElem, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch startElem.Name.Local {
		case "source":
			src = &Source{}
			if err := dec.DecodeElement(src, &startElem); err != nil {
				return nil, nil, err
			}
		case "partition":
			var po PartitionObject
			if err := dec.DecodeElement(&po, &startElem); err != nil {
				return nil, nil, err
			}
			parts = append(parts, po)
		}
	}
	return src, parts, nil
}
