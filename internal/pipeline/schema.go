package pipeline

import (
	"github.com/modalbot/backend/internal/catalog"
	"github.com/modalbot/backend/pkg/logger"
)

// RegisterSchema declares every table, view and derived column the system
// computes over, with lineage typed at declaration time. The inspector reads
// this registry directly instead of reverse-engineering expression strings.
func RegisterSchema(cat *catalog.Catalog) error {
	tables := []*catalog.Table{
		{
			Path: catalog.TableDocuments,
			Columns: []catalog.Column{
				{Name: "document", Type: "document"},
				{Name: "uuid", Type: "string"},
				{Name: "timestamp", Type: "timestamp"},
				{Name: "user_id", Type: "string"},
			},
		},
		{
			Path:       catalog.TableChunks,
			IsView:     true,
			Base:       catalog.TableDocuments,
			Iterator:   catalog.IteratorDocument,
			OwnColumns: []string{"text", "heading", "page", "title", "pos"},
			Columns: []catalog.Column{
				{Name: "text", Type: "string"},
				{Name: "heading", Type: "string"},
				{Name: "page", Type: "int"},
				{Name: "title", Type: "string"},
				{Name: "pos", Type: "int"},
			},
			Indexes: []string{"text"},
		},
		{
			Path: catalog.TableImages,
			Columns: []catalog.Column{
				{Name: "image", Type: "image"},
				{Name: "uuid", Type: "string"},
				{Name: "timestamp", Type: "timestamp"},
				{Name: "user_id", Type: "string"},
				{Name: "thumbnail", Type: "string", Derived: true, Derivation: &catalog.Derivation{
					Kind: catalog.KindBuiltin, Name: "encode_thumbnail", Inputs: []string{"image"},
				}},
			},
			Indexes: []string{"image"},
		},
		{
			Path: catalog.TableVideos,
			Columns: []catalog.Column{
				{Name: "video", Type: "video"},
				{Name: "uuid", Type: "string"},
				{Name: "timestamp", Type: "timestamp"},
				{Name: "user_id", Type: "string"},
				{Name: "audio", Type: "audio", Derived: true, Derivation: &catalog.Derivation{
					Kind: catalog.KindBuiltin, Name: "extract_audio", Inputs: []string{"video"},
				}},
			},
		},
		{
			Path:       catalog.TableVideoFrames,
			IsView:     true,
			Base:       catalog.TableVideos,
			Iterator:   catalog.IteratorFrame,
			OwnColumns: []string{"frame_idx", "pos_frame", "frame"},
			Columns: []catalog.Column{
				{Name: "frame_idx", Type: "int"},
				{Name: "pos_frame", Type: "float"},
				{Name: "frame", Type: "image"},
				{Name: "encoded_frame", Type: "string", Derived: true, Derivation: &catalog.Derivation{
					Kind: catalog.KindBuiltin, Name: "encode_frame", Inputs: []string{"frame"},
				}},
			},
			Indexes: []string{"frame"},
		},
		{
			Path:       catalog.TableVideoAudioChunks,
			IsView:     true,
			Base:       catalog.TableVideos,
			Iterator:   catalog.IteratorAudio,
			OwnColumns: []string{"audio_chunk", "start_time_sec", "end_time_sec"},
			Columns: []catalog.Column{
				{Name: "audio_chunk", Type: "audio"},
				{Name: "start_time_sec", Type: "float"},
				{Name: "end_time_sec", Type: "float"},
				{Name: "transcription", Type: "json", Derived: true, Derivation: &catalog.Derivation{
					Kind: catalog.KindBuiltin, Name: "transcribe", Inputs: []string{"audio_chunk"},
				}},
			},
		},
		{
			Path:       catalog.TableVideoTranscripts,
			IsView:     true,
			Base:       catalog.TableVideoAudioChunks,
			Iterator:   catalog.IteratorString,
			OwnColumns: []string{"text", "pos"},
			Columns: []catalog.Column{
				{Name: "text", Type: "string"},
				{Name: "pos", Type: "int"},
			},
			Indexes: []string{"text"},
		},
		{
			Path: catalog.TableAudios,
			Columns: []catalog.Column{
				{Name: "audio", Type: "audio"},
				{Name: "uuid", Type: "string"},
				{Name: "timestamp", Type: "timestamp"},
				{Name: "user_id", Type: "string"},
			},
		},
		{
			Path:       catalog.TableAudioChunks,
			IsView:     true,
			Base:       catalog.TableAudios,
			Iterator:   catalog.IteratorAudio,
			OwnColumns: []string{"audio_chunk", "start_time_sec", "end_time_sec"},
			Columns: []catalog.Column{
				{Name: "audio_chunk", Type: "audio"},
				{Name: "start_time_sec", Type: "float"},
				{Name: "end_time_sec", Type: "float"},
				{Name: "transcription", Type: "json", Derived: true, Derivation: &catalog.Derivation{
					Kind: catalog.KindBuiltin, Name: "transcribe", Inputs: []string{"audio_chunk"},
				}},
			},
		},
		{
			Path:       catalog.TableAudioTranscripts,
			IsView:     true,
			Base:       catalog.TableAudioChunks,
			Iterator:   catalog.IteratorString,
			OwnColumns: []string{"text", "pos"},
			Columns: []catalog.Column{
				{Name: "text", Type: "string"},
				{Name: "pos", Type: "int"},
			},
			Indexes: []string{"text"},
		},
		{
			Path: catalog.TableMemoryBank,
			Columns: []catalog.Column{
				{Name: "content", Type: "string"},
				{Name: "type", Type: "string"},
				{Name: "language", Type: "string"},
				{Name: "context_query", Type: "string"},
				{Name: "timestamp", Type: "timestamp"},
				{Name: "user_id", Type: "string"},
			},
			Indexes: []string{"content"},
		},
		{
			Path: catalog.TableChatHistory,
			Columns: []catalog.Column{
				{Name: "role", Type: "string"},
				{Name: "content", Type: "string"},
				{Name: "timestamp", Type: "timestamp"},
				{Name: "user_id", Type: "string"},
			},
			Indexes: []string{"content"},
		},
		{
			Path: catalog.TableUserPersonas,
			Columns: []catalog.Column{
				{Name: "user_id", Type: "string"},
				{Name: "persona_name", Type: "string"},
				{Name: "initial_prompt", Type: "string"},
				{Name: "final_prompt", Type: "string"},
				{Name: "llm_params", Type: "json"},
				{Name: "timestamp", Type: "timestamp"},
			},
		},
		queryRecordsTable(),
	}

	for _, t := range tables {
		if err := cat.Register(t); err != nil {
			return err
		}
	}

	logger.Info("Pipeline schema registered")
	return nil
}

// queryRecordsTable declares the query record with one derived column per
// pipeline stage, lineage typed by stage kind.
func queryRecordsTable() *catalog.Table {
	return &catalog.Table{
		Path: catalog.TableQueryRecords,
		Columns: []catalog.Column{
			{Name: "timestamp", Type: "timestamp"},
			{Name: "user_id", Type: "string"},
			{Name: "prompt", Type: "string"},
			{Name: "initial_system_prompt", Type: "string"},
			{Name: "final_system_prompt", Type: "string"},
			{Name: "max_tokens", Type: "int"},
			{Name: "temperature", Type: "float"},

			{Name: "initial_response", Type: "json", Derived: true, Derivation: &catalog.Derivation{
				Kind: catalog.KindBuiltin, Name: "tool_selection",
				Inputs: []string{"prompt", "initial_system_prompt", "max_tokens", "temperature"},
			}},
			{Name: "tool_output", Type: "string", Derived: true, Derivation: &catalog.Derivation{
				Kind: catalog.KindTool, Name: "invoke_tools", Inputs: []string{"initial_response"},
			}},
			{Name: "doc_context", Type: "json", Derived: true, Derivation: &catalog.Derivation{
				Kind: catalog.KindQuery, Name: "search_documents",
				TargetTable: catalog.TableChunks, Inputs: []string{"prompt", "user_id"},
			}},
			{Name: "image_context", Type: "json", Derived: true, Derivation: &catalog.Derivation{
				Kind: catalog.KindQuery, Name: "search_images",
				TargetTable: catalog.TableImages, Inputs: []string{"prompt", "user_id"},
			}},
			{Name: "video_frame_context", Type: "json", Derived: true, Derivation: &catalog.Derivation{
				Kind: catalog.KindQuery, Name: "search_video_frames",
				TargetTable: catalog.TableVideoFrames, Inputs: []string{"prompt", "user_id"},
			}},
			{Name: "memory_context", Type: "json", Derived: true, Derivation: &catalog.Derivation{
				Kind: catalog.KindQuery, Name: "search_memory",
				TargetTable: catalog.TableMemoryBank, Inputs: []string{"prompt", "user_id"},
			}},
			{Name: "chat_memory_context", Type: "json", Derived: true, Derivation: &catalog.Derivation{
				Kind: catalog.KindQuery, Name: "search_chat_history",
				TargetTable: catalog.TableChatHistory, Inputs: []string{"prompt", "user_id"},
			}},
			{Name: "history_context", Type: "json", Derived: true, Derivation: &catalog.Derivation{
				Kind: catalog.KindQuery, Name: "recent_history",
				TargetTable: catalog.TableChatHistory, Inputs: []string{"user_id"},
			}},
			{Name: "context_summary", Type: "string", Derived: true, Derivation: &catalog.Derivation{
				Kind: catalog.KindBuiltin, Name: "build_context_text",
				Inputs: []string{"prompt", "tool_output", "doc_context", "memory_context", "chat_memory_context"},
			}},
			{Name: "final_messages", Type: "json", Derived: true, Derivation: &catalog.Derivation{
				Kind: catalog.KindBuiltin, Name: "assemble_messages",
				Inputs: []string{"history_context", "context_summary", "image_context", "video_frame_context"},
			}},
			{Name: "final_response", Type: "json", Derived: true, Derivation: &catalog.Derivation{
				Kind: catalog.KindBuiltin, Name: "answer_generation",
				Inputs: []string{"final_messages", "final_system_prompt", "max_tokens", "temperature"},
			}},
			{Name: "answer", Type: "string", Derived: true, Derivation: &catalog.Derivation{
				Kind: catalog.KindBuiltin, Name: "extract_answer", Inputs: []string{"final_response"},
			}},
			{Name: "follow_up_prompt", Type: "string", Derived: true, Derivation: &catalog.Derivation{
				Kind: catalog.KindBuiltin, Name: "build_follow_up_prompt", Inputs: []string{"prompt", "answer"},
			}},
			{Name: "follow_up_raw", Type: "json", Derived: true, Derivation: &catalog.Derivation{
				Kind: catalog.KindBuiltin, Name: "follow_up_generation", Inputs: []string{"follow_up_prompt"},
			}},
			{Name: "follow_up_questions", Type: "json", Derived: true, Derivation: &catalog.Derivation{
				Kind: catalog.KindBuiltin, Name: "extract_follow_up_questions", Inputs: []string{"follow_up_raw"},
			}},
		},
	}
}
