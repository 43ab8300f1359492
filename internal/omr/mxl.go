package omr

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// mxlContainer mirrors META-INF/container.xml inside a compressed MusicXML
// archive, which names the root score file.
type mxlContainer struct {
	RootFiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

// ExtractMXL unpacks the score document from a compressed .mxl archive into
// destPath. The container manifest decides which member is the score; without
// one, the first xml member outside META-INF is used.
func ExtractMXL(mxlPath, destPath string) error {
	r, err := zip.OpenReader(mxlPath)
	if err != nil {
		return fmt.Errorf("open mxl archive: %w", err)
	}
	defer r.Close()

	member := findScoreMember(&r.Reader)
	if member == nil {
		return errors.New("mxl archive contains no score document")
	}

	src, err := member.Open()
	if err != nil {
		return fmt.Errorf("open archive member %s: %w", member.Name, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	dst, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("extract %s: %w", member.Name, err)
	}
	return nil
}

func findScoreMember(r *zip.Reader) *zip.File {
	byName := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		byName[f.Name] = f
	}

	if manifest, ok := byName["META-INF/container.xml"]; ok {
		if f := memberFromManifest(manifest, byName); f != nil {
			return f
		}
	}

	for _, f := range r.File {
		if strings.HasPrefix(f.Name, "META-INF/") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(f.Name))
		if ext == ".xml" || ext == ".musicxml" {
			return f
		}
	}
	return nil
}

func memberFromManifest(manifest *zip.File, byName map[string]*zip.File) *zip.File {
	rc, err := manifest.Open()
	if err != nil {
		return nil
	}
	defer rc.Close()

	var container mxlContainer
	if err := xml.NewDecoder(rc).Decode(&container); err != nil {
		return nil
	}
	for _, rf := range container.RootFiles {
		if f, ok := byName[rf.FullPath]; ok {
			return f
		}
	}
	return nil
}
