package metadata

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"
	"go.uber.org/zap"

	"github.com/myplayer/myplayer-go/internal/library"
)

// Tags are the fields written to a downloaded file
type Tags struct {
	Title  string
	Artist string
	Album  string
	Genre  string
}

// TagsFor derives tags from a song record. The category doubles as the genre.
func TagsFor(song library.Song) *Tags {
	return &Tags{
		Title:  song.Title,
		Artist: song.ArtistString(),
		Album:  song.Album,
		Genre:  song.Category,
	}
}

// Tagger writes song details into audio files after download
type Tagger struct {
	logger *zap.Logger
}

// NewTagger creates a new Tagger
func NewTagger(logger *zap.Logger) *Tagger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tagger{logger: logger}
}

// Apply tags the file at path with the details of song (MP3 or FLAC)
func (t *Tagger) Apply(path string, song library.Song) error {
	if err := ApplyTags(path, TagsFor(song)); err != nil {
		t.logger.Warn("Failed to tag file",
			zap.String("path", path),
			zap.String("song", song.Key().String()),
			zap.Error(err))
		return err
	}
	t.logger.Debug("Tagged file", zap.String("path", path))
	return nil
}

// ApplyTags applies tags to an audio file (MP3 or FLAC)
func ApplyTags(filePath string, tags *Tags) error {
	if tags == nil {
		return fmt.Errorf("tags cannot be nil")
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".mp3":
		return applyMP3Tags(filePath, tags)
	case ".flac":
		return applyFLACTags(filePath, tags)
	default:
		return fmt.Errorf("unsupported file format: %s", ext)
	}
}

// applyMP3Tags writes an ID3v2.4 tag
func applyMP3Tags(filePath string, tags *Tags) error {
	tag, err := id3v2.Open(filePath, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("failed to open MP3 file: %w", err)
	}
	defer tag.Close()

	tag.SetVersion(4)
	tag.SetDefaultEncoding(id3v2.EncodingUTF8)

	if tags.Title != "" {
		tag.SetTitle(tags.Title)
	}
	if tags.Artist != "" {
		tag.SetArtist(tags.Artist)
	}
	if tags.Album != "" {
		tag.SetAlbum(tags.Album)
	}
	if tags.Genre != "" {
		tag.SetGenre(tags.Genre)
	}

	if err := tag.Save(); err != nil {
		return fmt.Errorf("failed to save MP3 metadata: %w", err)
	}

	return nil
}

// applyFLACTags replaces the Vorbis comment fields we own
func applyFLACTags(filePath string, tags *Tags) error {
	f, err := flac.ParseFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to parse FLAC file: %w", err)
	}

	var cmtBlock *flac.MetaDataBlock
	for _, block := range f.Meta {
		if block.Type == flac.VorbisComment {
			cmtBlock = block
			break
		}
	}

	var cmt *flacvorbis.MetaDataBlockVorbisComment
	if cmtBlock == nil {
		cmtBlock = &flac.MetaDataBlock{Type: flac.VorbisComment}
		f.Meta = append(f.Meta, cmtBlock)
		cmt = flacvorbis.New()
	} else if cmt, err = flacvorbis.ParseFromMetaDataBlock(*cmtBlock); err != nil {
		cmt = flacvorbis.New()
	}

	fields := map[string]string{
		"TITLE":  tags.Title,
		"ARTIST": tags.Artist,
		"ALBUM":  tags.Album,
		"GENRE":  tags.Genre,
	}

	// Drop stale values so a re-fetched file does not carry two titles
	kept := cmt.Comments[:0]
	for _, c := range cmt.Comments {
		name, _, _ := strings.Cut(c, "=")
		if _, owned := fields[strings.ToUpper(name)]; !owned {
			kept = append(kept, c)
		}
	}
	cmt.Comments = kept

	for _, name := range []string{"TITLE", "ARTIST", "ALBUM", "GENRE"} {
		if v := fields[name]; v != "" {
			if err := cmt.Add(name, v); err != nil {
				return fmt.Errorf("failed to add %s comment: %w", name, err)
			}
		}
	}

	res := cmt.Marshal()
	cmtBlock.Data = res.Data

	if err := f.Save(filePath); err != nil {
		return fmt.Errorf("failed to save FLAC file: %w", err)
	}

	return nil
}

// ReadTags reads tags from an audio file
func ReadTags(filePath string) (*Tags, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".mp3":
		return readMP3Tags(filePath)
	case ".flac":
		return readFLACTags(filePath)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
}

func readMP3Tags(filePath string) (*Tags, error) {
	tag, err := id3v2.Open(filePath, id3v2.Options{Parse: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}
	defer tag.Close()

	return &Tags{
		Title:  tag.Title(),
		Artist: tag.Artist(),
		Album:  tag.Album(),
		Genre:  tag.Genre(),
	}, nil
}

func readFLACTags(filePath string) (*Tags, error) {
	f, err := flac.ParseFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to parse FLAC file: %w", err)
	}

	tags := &Tags{}
	for _, block := range f.Meta {
		if block.Type != flac.VorbisComment {
			continue
		}
		cmt, err := flacvorbis.ParseFromMetaDataBlock(*block)
		if err != nil {
			continue
		}

		first := func(name string) string {
			if vals, err := cmt.Get(name); err == nil && len(vals) > 0 {
				return vals[0]
			}
			return ""
		}
		tags.Title = first("TITLE")
		tags.Artist = first("ARTIST")
		tags.Album = first("ALBUM")
		tags.Genre = first("GENRE")
		break
	}

	return tags, nil
}
