package analyzer

import (
	"github.com/zsiec/ccx"

	"github.com/voc/tsmon/mpegts"
	"github.com/voc/tsmon/stream"
)

// esHeadLimit bounds the part of a video PES searched for parameter sets and captions
const esHeadLimit = 4096

// handlePES checks the PTS of PES starts and collects the head of each
// video PES for content inspection
func (a *Analyzer) handlePES(st *pidState, d *stream.StreamData) {
	hdr, err := mpegts.ParseHeader(d.Bytes())
	if err != nil || !hdr.HasPayload {
		return
	}
	videoPID, codec := a.tracker.VideoPID()
	video := d.PID == videoPID
	if d.PUSI {
		a.checkPTS(st, d, hdr.Payload, video)
	}
	if !video || codec == mpegts.CodecNone {
		return
	}

	if d.PUSI {
		a.inspectES(st, codec)
		es, ok := mpegts.PESPayload(hdr.Payload)
		st.es = append(st.es[:0], es...)
		st.collecting = ok
		return
	}
	if !st.collecting {
		return
	}
	st.es = append(st.es, hdr.Payload...)
	if len(st.es) >= esHeadLimit {
		a.inspectES(st, codec)
	}
}

// inspectES looks for random access points and CEA-608 captions in the
// collected PES head
func (a *Analyzer) inspectES(st *pidState, codec mpegts.Codec) {
	if !st.collecting {
		return
	}
	st.collecting = false
	head := st.es
	if len(head) > esHeadLimit {
		head = head[:esHeadLimit]
	}

	if mpegts.ContainsParameterSets(head, codec) {
		st.data.RandomAccessPoints++
	}
	for _, nal := range mpegts.SplitNALUnits(head) {
		if !mpegts.IsSEI(nal, codec) {
			continue
		}
		cd := ccx.ExtractCaptions(nal)
		if cd == nil || len(cd.CC608Pairs) == 0 {
			continue
		}
		if !st.data.Captions {
			a.log.Info("CEA-608 captions found", "pid", st.data.PID, "channel", cd.CC608Pairs[0].Channel)
		}
		st.data.Captions = true
	}
	st.es = st.es[:0]
}

// handleSplice decodes the SCTE-35 splice_info sections of a cue PID
func (a *Analyzer) handleSplice(st *pidState, d *stream.StreamData) {
	hdr, err := mpegts.ParseHeader(d.Bytes())
	if err != nil || !hdr.HasPayload || len(hdr.Payload) == 0 {
		return
	}
	if st.splice == nil {
		st.splice = &mpegts.SectionAssembler{}
	}
	sections, err := st.splice.Push(hdr.Payload, hdr.PUSI)
	if err != nil {
		a.log.Warn("SCTE-35 section dropped", "pid", d.PID, "err", err)
	}
	for _, section := range sections {
		info, err := mpegts.ParseSpliceInfo(section)
		if err != nil {
			a.log.Warn("invalid SCTE-35 section", "pid", d.PID, "err", err)
			continue
		}
		// splice_null is a heartbeat
		if info.CommandType == mpegts.SpliceNull {
			continue
		}
		st.data.SpliceEvents++
		st.data.LastSplice = info.String()
		a.log.Info("splice", "pid", d.PID, "event", st.data.LastSplice)
	}
}
